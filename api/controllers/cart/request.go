package cart

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,lte=999"`
}

type selectMethodRequest struct {
	MethodID string `json:"method_id" validate:"required,max=100"`
}
