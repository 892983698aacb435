package txlog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates transaction records in the audit sink.
type Kind string

const (
	KindLoanPayment  Kind = "loan_payment"
	KindDisbursement Kind = "guarantor_disbursement"
)

// Record mirrors the transactions table. One loan_payment row is written per
// accepted payment and one guarantor_disbursement row per reimbursement
// share, all inside the payment's unit of work.
type Record struct {
	ID              string
	LoanID          string
	Kind            Kind
	Reference       string
	Amount          decimal.Decimal
	InterestAmount  decimal.Decimal
	GuarantorAmount decimal.Decimal
	PrincipalAmount decimal.Decimal
	GuarantorID     *string
	AccountID       *string
	CreatedAt       time.Time
}

// PaymentRecord enumerates the audit fields for one accepted payment.
type PaymentRecord struct {
	LoanID    string
	Reference string
	Amount    decimal.Decimal
	Interest  decimal.Decimal
	Guarantor decimal.Decimal
	Principal decimal.Decimal
}

// DisbursementRecord enumerates the audit fields for one guarantor share.
type DisbursementRecord struct {
	LoanID           string
	Reference        string
	PaymentReference string
	GuarantorID      string
	AccountID        string
	Share            decimal.Decimal
}

const (
	// TopicPaymentApplied is published for every accepted payment.
	TopicPaymentApplied = "loan.payment.applied"
	// TopicLoanSettled is published once, when a payment settles the loan.
	TopicLoanSettled = "loan.settled"
	// TopicLoanOriginated is published when a loan is created.
	TopicLoanOriginated = "loan.originated"
)
