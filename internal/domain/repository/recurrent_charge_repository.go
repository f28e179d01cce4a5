package repository

import (
	"context"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

// RecurrentChargeRepository persists renewal chain nodes keyed by original transaction id.
type RecurrentChargeRepository interface {
	Create(ctx context.Context, charge *model.RecurrentCharge) error
	Update(ctx context.Context, charge *model.RecurrentCharge) error
	// GetLastByCid returns the most recently created node for cid. When excludeParentPaymentID
	// is set, nodes whose parent payment is that id are skipped.
	GetLastByCid(ctx context.Context, cid string, excludeParentPaymentID *int64) (*model.RecurrentCharge, error)
	// GetLastByParentPaymentID returns the most recent node created for the payment.
	GetLastByParentPaymentID(ctx context.Context, paymentID int64) (*model.RecurrentCharge, error)
	// ListUsableByCid returns nodes for cid that are active or charge_failed.
	ListUsableByCid(ctx context.Context, cid string) ([]*model.RecurrentCharge, error)
}
