package cobuild

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/cobuild/types"
)

const stateSeparator = ";"

// CompletedState is the published outcome of a cobuild task.
type CompletedState struct {
	Status  types.OperationStatus `json:"status" yaml:"status"`
	CacheID string                `json:"cache_id" yaml:"cache_id"`
}

// Validate reports whether s may be published.
func (s CompletedState) Validate() error {
	if !s.Status.IsTerminal() {
		return fmt.Errorf("%w: status %q is not terminal", ErrInvalidState, s.Status)
	}
	if s.CacheID == "" {
		return fmt.Errorf("%w: cache id is required", ErrInvalidState)
	}
	return nil
}

// Encode returns the wire form "<status>;<cacheId>".
func (s CompletedState) Encode() string {
	return string(s.Status) + stateSeparator + s.CacheID
}

// DecodeCompletedState parses the wire form. Statuses never contain the
// separator, so splitting on the first one keeps any cache id intact.
func DecodeCompletedState(raw string) (*CompletedState, error) {
	status, cacheID, ok := strings.Cut(raw, stateSeparator)
	if !ok {
		return nil, fmt.Errorf("%w: missing separator in %q", ErrInvalidState, raw)
	}
	s := &CompletedState{Status: types.OperationStatus(status), CacheID: cacheID}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
