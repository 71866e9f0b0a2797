package navigate

import (
	"errors"
	"fmt"
)

var (
	// ErrLocatorNotFound means an indexed element never became visible, even
	// after re-homing the list once.
	ErrLocatorNotFound = errors.New("navigate: element not found")
	// ErrClickFailed means every click attempt on a resolved element failed.
	ErrClickFailed = errors.New("navigate: click failed")
	// ErrConvergenceTimeout means a scroll-loaded list never stabilized above
	// its threshold within the poll cap or wall-clock budget.
	ErrConvergenceTimeout = errors.New("navigate: list did not converge")
	// ErrNavigationFailed means click-through never reached the item URL.
	ErrNavigationFailed = errors.New("navigate: item page not reached")
	// ErrExtractionTimeout means the extractor did not finish in time.
	ErrExtractionTimeout = errors.New("navigate: extraction timed out")
	// ErrNavigationRecoveryExhausted is fatal: the browser could not be
	// returned to the list page.
	ErrNavigationRecoveryExhausted = errors.New("navigate: could not return to list page")
)

// Stage names where an item failed.
type Stage string

const (
	StageList     Stage = "list"
	StageConverge Stage = "converge"
	StageLocate   Stage = "locate"
	StageNavigate Stage = "navigate"
	StageExtract  Stage = "extract"
	StageIngest   Stage = "ingest"
)

// ItemError is a per-item (or per-list) failure. The controller records it
// and moves on.
type ItemError struct {
	URL   string
	List  string
	Stage Stage
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func itemErr(target Target, stage Stage, err error) error {
	return &ItemError{URL: target.URL, List: target.List, Stage: stage, Err: err}
}
