package controller

import "errors"

// ErrProfileRequiresSingleWorker is returned by New when a profile
// directory was requested without -1 (single-worker mode), per §4.6's
// profile-mode validation: profiling is only legal when ACCOUNTLIMIT is
// forced to 1.
var ErrProfileRequiresSingleWorker = errors.New("controller: profiling requires single-worker mode (-1)")

// ErrProcessExit is the sentinel error a worker's exception wraps to
// request full process termination without a report. Every worker error
// ends the run: the termination handler reports other errors through the
// UI sink and then propagates them, while this one is propagated without
// being reported (§4.6: "if the exception is a process-exit request,
// propagate it to the main thread").
var ErrProcessExit = errors.New("controller: worker requested process exit")
