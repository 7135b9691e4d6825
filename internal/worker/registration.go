package worker

import (
	"context"
	"sync"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/fetch"
)

// Message types accepted by Registration.Message.
const (
	MessageSkipWaiting  = "skip-waiting"
	MessageClaimClients = "claim-clients"
)

// Registration holds the worker versions of one scope: at most one active,
// one waiting and one installing. Requests are answered by the controller,
// the active worker once it has claimed clients.
type Registration struct {
	// updateMu serializes Register calls.
	updateMu sync.Mutex

	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	controller *Worker

	logger *zap.Logger
}

func NewRegistration(logger *zap.Logger) *Registration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registration{logger: logger.Named("registration")}
}

// Register installs w. A failed install leaves w redundant and the active
// worker untouched. A successful install waits unless w skips waiting or
// nothing is active yet. Registering the active version again is a no-op
// and reports false.
func (r *Registration) Register(ctx context.Context, w *Worker) (bool, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	if active := r.Active(); active != nil && active.Version() == w.Version() {
		r.logger.Info("worker unchanged", zap.String("version", w.Version()))
		w.setState(StateRedundant)
		return false, nil
	}

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	err := w.Install(ctx)

	r.mu.Lock()
	r.installing = nil
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("worker install failed, keeping the active worker",
			zap.String("version", w.Version()), zap.Error(err))
		return false, platformerrors.Wrapf(err, platformerrors.CodeExecutionFailed, "install worker %s", w.Version())
	}
	if r.waiting != nil {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	activateNow := w.cfg.SkipWaiting || r.active == nil
	r.mu.Unlock()

	if activateNow {
		return true, r.activateWaiting(ctx)
	}
	r.logger.Info("worker installed, waiting", zap.String("version", w.Version()))
	return true, nil
}

// activateWaiting promotes the waiting worker. An existing controller is
// taken over; with no controller the new worker claims clients only when
// configured to.
func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	r.mu.Unlock()
	if w == nil {
		return nil
	}

	if err := w.Activate(ctx); err != nil {
		r.mu.Lock()
		if r.waiting == w {
			r.waiting = nil
		}
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	previous := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	if r.controller != nil || w.cfg.ClientsClaim {
		r.controller = w
	}
	r.mu.Unlock()

	if previous != nil {
		previous.setState(StateRedundant)
	}
	r.logger.Info("worker activated", zap.String("version", w.Version()))
	return nil
}

// Message handles a lifecycle message.
func (r *Registration) Message(ctx context.Context, msgType string) error {
	switch msgType {
	case MessageSkipWaiting:
		r.updateMu.Lock()
		defer r.updateMu.Unlock()
		return r.activateWaiting(ctx)
	case MessageClaimClients:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.active == nil {
			return platformerrors.New(platformerrors.CodeConflict, "no active worker to claim clients")
		}
		r.controller = r.active
		return nil
	default:
		return platformerrors.Newf(platformerrors.CodeInvalidInput, "unknown message type %q", msgType)
	}
}

func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Controller returns the worker answering requests, if any.
func (r *Registration) Controller() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

// Dispatch lets the controller answer req. A navigation while nothing
// controls makes the active worker the controller, as a page load would.
func (r *Registration) Dispatch(ctx context.Context, req *fetch.Request) (*fetch.Response, bool, error) {
	w := r.Controller()
	if w == nil && req.Mode == fetch.ModeNavigate {
		r.mu.Lock()
		if r.controller == nil {
			r.controller = r.active
		}
		w = r.controller
		r.mu.Unlock()
	}
	if w == nil {
		return nil, false, nil
	}
	return w.HandleFetch(ctx, req)
}

// Status is a snapshot of the registration.
type Status struct {
	Installing  *Info `json:"installing,omitempty"`
	Waiting     *Info `json:"waiting,omitempty"`
	Active      *Info `json:"active,omitempty"`
	Controlling bool  `json:"controlling"`
}

func (r *Registration) Status() Status {
	r.mu.RLock()
	installing, waiting, active, controller := r.installing, r.waiting, r.active, r.controller
	r.mu.RUnlock()

	info := func(w *Worker) *Info {
		if w == nil {
			return nil
		}
		i := w.Info()
		return &i
	}
	return Status{
		Installing:  info(installing),
		Waiting:     info(waiting),
		Active:      info(active),
		Controlling: controller != nil && controller == active,
	}
}
