package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ticket is a repair work order. This engine only reads tickets and their
// approved budget lines; lifecycle transitions belong to the completion
// workflow that calls in.
type Ticket struct {
	ID            int          `gorm:"primary_key" json:"id"`
	ClientName    string       `gorm:"size:100;not null" json:"client_name"`
	DeviceBrand   string       `gorm:"size:100" json:"device_brand"`
	DeviceModel   string       `gorm:"size:100" json:"device_model"`
	ReportedIssue string       `gorm:"type:text" json:"reported_issue"`
	Status        TicketStatus `gorm:"type:enum('DRAFT','APPROVED','COMPLETED','CANCELLED');default:DRAFT" json:"status"`
	BudgetLines   []BudgetLine `gorm:"foreignkey:TicketId" json:"budget_lines"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// BudgetLine is one priced item on a ticket's approved budget. Immutable once
// the budget is approved; read-only input to the engine.
type BudgetLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	TicketId    int             `gorm:"index;not null" json:"ticket_id"`
	Description string          `gorm:"size:200;not null" json:"description"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewTicket struct {
	ClientName    string          `json:"client_name" validate:"required,max=100"`
	DeviceBrand   string          `json:"device_brand" validate:"max=100"`
	DeviceModel   string          `json:"device_model" validate:"max=100"`
	ReportedIssue string          `json:"reported_issue"`
	BudgetLines   []NewBudgetLine `json:"budget_lines" validate:"dive"`
}

type NewBudgetLine struct {
	Description string          `json:"description" validate:"required,max=200"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// GetTicket fetches a ticket with its budget lines.
// The ticket itself being absent is a hard NotFound for callers.
func GetTicket(ctx context.Context, id int) (*Ticket, error) {
	return utils.FetchSingleModel[Ticket](ctx, id, "BudgetLines")
}

// BudgetLinesForTicket returns the ticket's approved budget lines.
func BudgetLinesForTicket(ctx context.Context, ticketId int) ([]*BudgetLine, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	var ticketCount int64
	if err := db.WithContext(ctx).Model(&Ticket{}).Where("id = ?", ticketId).Count(&ticketCount).Error; err != nil {
		return nil, err
	}
	if ticketCount == 0 {
		return nil, utils.ErrorRecordNotFound
	}

	var lines []*BudgetLine
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("id").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// CreateTicket inserts a ticket with its budget lines (dev/seed use; the
// production budget source is the external budgeting module).
func CreateTicket(ctx context.Context, input *NewTicket) (*Ticket, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	for _, line := range input.BudgetLines {
		if !line.Qty.IsPositive() || !line.Qty.Equal(line.Qty.Truncate(0)) {
			return nil, errors.New("budget line qty must be a positive integer")
		}
	}

	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	ticket := Ticket{
		ClientName:    input.ClientName,
		DeviceBrand:   input.DeviceBrand,
		DeviceModel:   input.DeviceModel,
		ReportedIssue: input.ReportedIssue,
		Status:        TicketStatusApproved,
	}
	for _, line := range input.BudgetLines {
		ticket.BudgetLines = append(ticket.BudgetLines, BudgetLine{
			Description: line.Description,
			Qty:         line.Qty,
			UnitPrice:   line.UnitPrice,
		})
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&ticket).Error
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}
