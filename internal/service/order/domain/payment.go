package domain

import "time"

// PaymentStatus 是支付网关返回的支付状态。
type PaymentStatus string

const (
	PaymentReady             PaymentStatus = "READY"
	PaymentInProgress        PaymentStatus = "IN_PROGRESS"
	PaymentWaitingForDeposit PaymentStatus = "WAITING_FOR_DEPOSIT"
	PaymentDone              PaymentStatus = "DONE"
	PaymentCanceled          PaymentStatus = "CANCELED"
	PaymentPartialCanceled   PaymentStatus = "PARTIAL_CANCELED"
	PaymentAborted           PaymentStatus = "ABORTED"
	PaymentExpired           PaymentStatus = "EXPIRED"
)

// VirtualAccount 是虚拟账户支付时返回给客户端的入金信息。
type VirtualAccount struct {
	AccountNumber string    `json:"accountNumber"`
	Bank          string    `json:"bank"`
	CustomerName  string    `json:"customerName"`
	DueDate       time.Time `json:"dueDate"`
}

// CapturedPayment 是网关确认支付后的结果。
type CapturedPayment struct {
	Status         PaymentStatus
	TotalAmount    int64
	Secret         string // 入金回调校验用的一次性密钥
	VirtualAccount *VirtualAccount
}

// PaymentResponse 是支付对账的响应，也是支付会话缓存的内容。
type PaymentResponse struct {
	State          State           `json:"state"`
	Price          int64           `json:"price"`
	VirtualAccount *VirtualAccount `json:"virtualAccount,omitempty"`
}
