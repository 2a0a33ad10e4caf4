package checkout

type couponRequest struct {
	Code  string `json:"code" validate:"required,max=64"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

type markPaidRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required,startswith=pi_,max=255"`
}
