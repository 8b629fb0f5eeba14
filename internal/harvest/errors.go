package harvest

import (
	"context"
	"errors"

	"github.com/ligustah/harvest/internal/guard"
	harvesthttp "github.com/ligustah/harvest/internal/http"
	"github.com/ligustah/harvest/internal/validate"
	"github.com/ligustah/harvest/pkg/dataset"
)

// Kind groups rejection reasons for reporting.
type Kind string

const (
	// KindPolicy covers content and trust rules: untrusted hosts, size
	// limits, failed validation stages and duplicate content.
	KindPolicy Kind = "policy"
	// KindNetwork covers timeouts, connection failures and non-2xx
	// responses.
	KindNetwork Kind = "network"
	// KindIO covers local filesystem failures.
	KindIO Kind = "io"
)

// ErrDuplicate is returned when a candidate's content is already in the
// dataset.
var ErrDuplicate = errors.New("harvest: duplicate content")

// Classify maps an acquisition error onto its Kind. It returns "" for nil.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var rej *validate.Rejection
	var layoutErr *dataset.LayoutError
	switch {
	case errors.As(err, &rej),
		errors.As(err, &layoutErr),
		errors.Is(err, guard.ErrUntrustedHost),
		errors.Is(err, harvesthttp.ErrTooLarge),
		errors.Is(err, ErrDuplicate):
		return KindPolicy
	}

	var statusErr *harvesthttp.StatusError
	switch {
	case errors.As(err, &statusErr),
		errors.Is(err, harvesthttp.ErrTimeout),
		errors.Is(err, harvesthttp.ErrConnection),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindNetwork
	}

	// Anything else happened on local disk.
	return KindIO
}
