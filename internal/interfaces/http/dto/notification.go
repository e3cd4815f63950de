package dto

// YooKassa notification events
const (
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentWaitingForCapture = "payment.waiting_for_capture"
	EventPaymentCanceled          = "payment.canceled"
)

// PaymentNotificationRequest is the body of a YooKassa webhook call. Only the
// payment id is trusted; its status is re-read from the gateway.
type PaymentNotificationRequest struct {
	Type   string                    `json:"type" binding:"required,eq=notification"`
	Event  string                    `json:"event" binding:"required,oneof=payment.succeeded payment.waiting_for_capture payment.canceled refund.succeeded"`
	Object PaymentNotificationObject `json:"object" binding:"required"`
}

// PaymentNotificationObject is the payment the notification is about
type PaymentNotificationObject struct {
	ID     string `json:"id" binding:"required,max=64"`
	Status string `json:"status"`
}

// PaymentNotificationResponse reports what happened to a notification
type PaymentNotificationResponse struct {
	Processed        bool `json:"processed"`
	AlreadyProcessed bool `json:"already_processed,omitempty"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}
