package sheets

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	TransactionWriter interface {
		// Append writes one row for tx and returns a reference to it.
		Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}

	// TransactionIndex reports whether tx already has a row, so redelivered
	// messages do not produce duplicate rows.
	TransactionIndex interface {
		Contains(ctx context.Context, tx core.Transaction) (bool, error)
	}

	TransactionSink interface {
		TransactionWriter
		TransactionIndex
	}
)
