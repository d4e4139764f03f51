package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/nxledger/internal/lock"
	"github.com/erazemk/nxledger/internal/metrics"
	"github.com/erazemk/nxledger/internal/model"
)

// Service runs container and inventory mutations end to end: normalize,
// validate, diff, reconcile and re-version, holding a lock on every location
// it writes to.
type Service struct {
	store  Store
	writer *Writer
	locker lock.Locker
	now    func() time.Time
}

// NewService returns a Service. A nil locker serializes in-process only.
func NewService(store Store, writer *Writer, locker lock.Locker) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{store: store, writer: writer, locker: locker, now: Now}
}

// ContainerUpdate is a submitted container version with its desired contents.
// A nil Parts leaves membership untouched; an empty one empties the container.
type ContainerUpdate struct {
	Container   model.Container
	Parts       []model.CartItem
	Counterpart model.Location
	By          string
	Migrated    bool
	DryRun      bool
}

// ContainerResult reports a container update.
type ContainerResult struct {
	Container   *model.Container `json:"container"`
	Added       []model.CartItem `json:"added"`
	Removed     []model.CartItem `json:"removed"`
	Parts       *Result          `json:"parts,omitempty"`
	Reversioned bool             `json:"reversioned"`
}

// CreateContainer creates the first version of a container and moves the
// requested parts into it.
func (s *Service) CreateContainer(ctx context.Context, u ContainerUpdate) (*ContainerResult, error) {
	c := u.Container
	if err := validateContainer(c); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lockKeys(c.Ref(), u)...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.checkPallet(ctx, c); err != nil {
		return nil, err
	}
	if u.Parts != nil {
		if err := ValidateCart(ctx, s.store, NormalizeCart(u.Parts)); err != nil {
			return nil, err
		}
	}

	now := s.now()
	c.Version = model.Version{DateCreated: now, By: u.By}
	c.PrevPallet, c.NextPallet, c.PrevLocation, c.NextLocation = "", "", "", ""
	c.DateUpdated = now
	if u.DryRun {
		return s.reconcileParts(ctx, &c, u, now)
	}
	if err := s.store.CreateContainer(ctx, &c); err != nil {
		return nil, err
	}
	slog.Info("container created", "kind", c.Kind, "tag", c.Tag, "by", u.By)

	res, err := s.reconcileParts(ctx, &c, u, now)
	if err != nil {
		s.discardContainer(context.WithoutCancel(ctx), &c, now)
		return nil, err
	}
	return res, nil
}

// discardContainer closes a container created by a request whose parts could
// not be written. A container still holding parts after a failed unwind stays open.
func (s *Service) discardContainer(ctx context.Context, c *model.Container, now time.Time) {
	n, err := s.store.CountRecords(ctx, c.Ref().Filter())
	if err == nil && n > 0 {
		err = fmt.Errorf("%s %s holds %d parts: %w", c.Kind, c.Tag, n, ErrNotEmpty)
	}
	if err == nil {
		err = s.store.CloseContainer(ctx, c.Kind, c.ID, nil, now)
	}
	if err != nil {
		slog.Error("failed to discard container", "kind", c.Kind, "tag", c.Tag, "id", c.ID, "error", err)
		return
	}
	slog.Info("container discarded", "kind", c.Kind, "tag", c.Tag, "id", c.ID)
}

// UpdateContainer reconciles the container's parts with u.Parts, then
// supersedes the head if its attributes changed, or bumps date_updated if
// only membership did.
func (s *Service) UpdateContainer(ctx context.Context, u ContainerUpdate) (*ContainerResult, error) {
	if err := validateContainer(u.Container); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lockKeys(u.Container.Ref(), u)...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := s.store.ContainerHead(ctx, u.Container.Kind, u.Container.Tag)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("%s %s: %w", u.Container.Kind, u.Container.Tag, ErrNotFound)
	}
	if err := s.checkPallet(ctx, u.Container); err != nil {
		return nil, err
	}

	now := s.now()
	res, err := s.reconcileParts(ctx, head, u, now)
	if err != nil || u.DryRun {
		return res, err
	}

	submitted := u.Container
	if !head.SameAttributes(submitted) {
		succ := submitted
		succ.Version = model.Version{DateCreated: now, By: u.By}
		succ.PrevPallet = head.PalletTag
		succ.PrevLocation = head.Location
		succ.NextPallet, succ.NextLocation = "", ""
		if err := s.store.SupersedeContainer(ctx, head.ID, &succ); err != nil {
			if errors.Is(err, model.ErrChainConflict) {
				metrics.ChainConflicts.WithLabelValues(string(head.Kind)).Inc()
			}
			return nil, err
		}
		res.Container = &succ
		res.Reversioned = true
		slog.Info("container updated", "kind", succ.Kind, "tag", succ.Tag, "version", succ.ID, "by", u.By)
	} else if res.Parts != nil && res.Parts.Changed() {
		if err := s.store.TouchContainer(ctx, head.Kind, head.ID, now); err != nil {
			return nil, err
		}
		head.DateUpdated = now
	}
	return res, nil
}

func (s *Service) reconcileParts(ctx context.Context, c *model.Container, u ContainerUpdate, now time.Time) (*ContainerResult, error) {
	res := &ContainerResult{Container: c, Added: []model.CartItem{}, Removed: []model.CartItem{}}
	if u.Parts == nil {
		return res, nil
	}

	cart := NormalizeCart(u.Parts)
	if err := ValidateCart(ctx, s.store, cart); err != nil {
		return nil, err
	}

	ref := c.Ref()
	var current []model.PartRecord
	if c.ID != "" {
		var err error
		if current, err = s.store.FindRecords(ctx, ref.Filter()); err != nil {
			return nil, err
		}
	}

	added, removed, err := Diff(cart, current)
	if err != nil {
		return nil, err
	}
	if added != nil {
		res.Added = added
	}
	if removed != nil {
		res.Removed = removed
	}

	res.Parts, err = s.writer.Reconcile(ctx, ReconcileRequest{
		Added:       added,
		Removed:     removed,
		Container:   ref,
		Counterpart: u.Counterpart,
		Date:        now,
		By:          u.By,
		Migrated:    u.Migrated,
		DryRun:      u.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteContainer terminates an empty container's chain.
func (s *Service) DeleteContainer(ctx context.Context, kind model.ContainerKind, tag, by string) error {
	ref := model.InContainer(kind, tag)
	unlock, err := s.locker.Lock(ctx, ref.Key())
	if err != nil {
		return err
	}
	defer unlock()

	head, err := s.store.ContainerHead(ctx, kind, tag)
	if err != nil {
		return err
	}
	if head == nil {
		return fmt.Errorf("%s %s: %w", kind, tag, ErrNotFound)
	}

	n, err := s.store.CountRecords(ctx, ref.Filter())
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%s %s holds %d parts: %w", kind, tag, n, ErrNotEmpty)
	}
	if kind == model.KindPallet {
		for _, child := range []model.ContainerKind{model.KindAsset, model.KindBox} {
			cs, err := s.store.FindContainers(ctx, model.ContainerFilter{Kind: child, PalletTag: tag, OpenOnly: true})
			if err != nil {
				return err
			}
			for _, c := range cs {
				if c.PalletTag == tag {
					return fmt.Errorf("pallet %s holds %s %s: %w", tag, child, c.Tag, ErrNotEmpty)
				}
			}
		}
	}

	if err := s.store.CloseContainer(ctx, kind, head.ID, nil, s.now()); err != nil {
		return err
	}
	slog.Info("container deleted", "kind", kind, "tag", tag, "by", by)
	return nil
}

// ReceiveRequest brings new parts into inventory.
type ReceiveRequest struct {
	Parts []model.CartItem
	To    model.Location
	By    string
}

// Receive creates new chains at req.To. Serials already in inventory are skipped.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (*Result, error) {
	if req.To.Kind == model.LocationDeleted {
		return nil, fmt.Errorf("%w: cannot receive parts into deleted", ErrInvalid)
	}
	if err := req.To.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cart := NormalizeCart(req.Parts)
	if err := ValidateCart(ctx, s.store, cart); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.To.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.requireContainer(ctx, req.To); err != nil {
		return nil, err
	}

	res, err := s.writer.Apply(ctx, ApplyRequest{
		Items:    cart,
		Create:   req.To,
		Date:     s.now(),
		By:       req.By,
		Migrated: true,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("parts received", "to", req.To.Key(), "applied", len(res.Applied), "skipped", len(res.Skipped), "by", req.By)
	return res, nil
}

// TransferRequest moves parts between two locations, such as two users' inventories.
type TransferRequest struct {
	Parts  []model.CartItem
	From   model.Location
	To     model.Location
	By     string
	DryRun bool
}

// Transfer moves the cart from req.From to req.To.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Result, error) {
	if err := req.From.Validate(); err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrInvalid, err)
	}
	if err := req.To.Validate(); err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrInvalid, err)
	}
	if req.From.Key() == req.To.Key() {
		return nil, fmt.Errorf("%w: source and destination are the same", ErrInvalid)
	}
	cart := NormalizeCart(req.Parts)
	if err := ValidateCart(ctx, s.store, cart); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.From.Key(), req.To.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.requireContainer(ctx, req.To); err != nil {
		return nil, err
	}

	res, err := s.writer.Apply(ctx, ApplyRequest{
		Items:  cart,
		Search: req.From,
		Create: req.To,
		Date:   s.now(),
		By:     req.By,
		DryRun: req.DryRun,
	})
	if err != nil {
		return nil, err
	}
	if !req.DryRun {
		slog.Info("parts transferred", "from", req.From.Key(), "to", req.To.Key(),
			"applied", len(res.Applied), "skipped", len(res.Skipped), "by", req.By)
	}
	return res, nil
}

func (s *Service) requireContainer(ctx context.Context, loc model.Location) error {
	if loc.Kind != model.LocationContainer {
		return nil
	}
	head, err := s.store.ContainerHead(ctx, loc.Container, loc.Tag)
	if err != nil {
		return err
	}
	if head == nil {
		return fmt.Errorf("%s %s: %w", loc.Container, loc.Tag, ErrNotFound)
	}
	return nil
}

func (s *Service) checkPallet(ctx context.Context, c model.Container) error {
	if c.PalletTag == "" {
		return nil
	}
	pallet, err := s.store.ContainerHead(ctx, model.KindPallet, c.PalletTag)
	if err != nil {
		return err
	}
	if pallet == nil {
		return fmt.Errorf("pallet %s: %w", c.PalletTag, ErrNotFound)
	}
	return nil
}

func validateContainer(c model.Container) error {
	if _, err := model.ParseContainerKind(string(c.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Tag == "" {
		return fmt.Errorf("%w: %s tag is required", ErrInvalid, c.Kind)
	}
	if c.Kind == model.KindPallet && c.PalletTag != "" {
		return fmt.Errorf("%w: a pallet cannot sit on a pallet", ErrInvalid)
	}
	return nil
}

func lockKeys(ref model.Location, u ContainerUpdate) []string {
	keys := []string{ref.Key()}
	if u.Parts != nil && u.Counterpart.Validate() == nil {
		keys = append(keys, u.Counterpart.Key())
	}
	return keys
}
