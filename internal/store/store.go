package store

import (
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
)

// Store defines the interface for database operations.
type Store interface {
	// Record inserts or replaces an operation by ID.
	Record(op *models.Operation) error
	// List returns the newest operations first. An empty vm lists all VMs;
	// a non-positive limit means no limit.
	List(vm string, limit int) ([]models.Operation, error)
	// Get returns nil, nil when id is unknown.
	Get(id string) (*models.Operation, error)

	Close() error
}
