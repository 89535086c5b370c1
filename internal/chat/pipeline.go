package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"samvad-chat/internal/models"
	"samvad-chat/pkg/logger"
)

type stage string

const (
	stageReceived  stage = "received"
	stageValidated stage = "validated"
	stagePersisted stage = "persisted"
	stageEnriched  stage = "enriched"
	stageBroadcast stage = "broadcast"
	stageDone      stage = "done"
	stageFailed    stage = "failed"
)

type PipelineConfig struct {
	MaxBodyLength  int
	PersistTimeout time.Duration
}

// PipelineStats counts send outcomes since start.
type PipelineStats struct {
	Delivered       uint64 `json:"delivered"`
	Rejected        uint64 `json:"rejected"`
	StorageFailures uint64 `json:"storage_failures"`
}

// Pipeline turns a send request into a persisted message and then a broadcast.
type Pipeline struct {
	members    MembershipDirectory
	identities IdentityResolver
	store      MessageStore
	router     Broadcaster
	seq        *sequencer
	cfg        PipelineConfig

	delivered       atomic.Uint64
	rejected        atomic.Uint64
	storageFailures atomic.Uint64
}

func NewPipeline(members MembershipDirectory, identities IdentityResolver, store MessageStore, router Broadcaster, cfg PipelineConfig) *Pipeline {
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = 4000
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	return &Pipeline{
		members:    members,
		identities: identities,
		store:      store,
		router:     router,
		seq:        newSequencer(),
		cfg:        cfg,
	}
}

// Send validates, persists, enriches and broadcasts one message. It returns
// once the message is stored; fan-out is a non-blocking hand-off to each
// subscriber. Cancelling ctx does not abort a send that has been accepted.
func (p *Pipeline) Send(ctx context.Context, req models.SendMessageRequest) (*models.OutboundMessage, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PersistTimeout)
	defer cancel()

	p.trace(req, stageReceived)

	identity, anonymous, err := p.validate(ctx, req)
	if err != nil {
		p.rejected.Add(1)
		return nil, p.fail(req, err)
	}
	p.trace(req, stageValidated)

	unlock := p.seq.lock(req.GroupID)
	defer unlock()

	stored, err := p.store.AppendMessage(ctx, &models.Message{
		GroupID:     req.GroupID,
		UserID:      req.UserID,
		Body:        req.Message,
		IsAnonymous: anonymous,
	})
	if err != nil {
		p.storageFailures.Add(1)
		return nil, p.fail(req, fmt.Errorf("%w: %w", ErrStorage, err))
	}
	p.trace(req, stagePersisted)

	out := Enrich(stored, *identity)
	p.trace(req, stageEnriched)

	payload, err := models.EncodeEvent(models.EventNewMessage, out)
	if err != nil {
		// Stored but not deliverable live; clients still get it through history.
		logger.Error("Error encoding message %d for group %d: %v", stored.ID, stored.GroupID, err)
		return out, nil
	}

	recipients := p.router.Broadcast(stored.GroupID, payload)
	p.trace(req, stageBroadcast)
	p.delivered.Add(1)

	logger.Debug("Message %d (seq %d) in group %d %s to %d connections",
		stored.ID, stored.Seq, stored.GroupID, stageDone, recipients)
	return out, nil
}

// validate checks the request and resolves the sender identity and the
// effective anonymity flag. Anonymity requested in a group that does not
// allow it is silently dropped.
func (p *Pipeline) validate(ctx context.Context, req models.SendMessageRequest) (*models.Identity, bool, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, false, fmt.Errorf("%w: message body is required", ErrInvalidMessage)
	}
	if !utf8.ValidString(req.Message) {
		return nil, false, fmt.Errorf("%w: message must be valid UTF-8", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(req.Message); n > p.cfg.MaxBodyLength {
		return nil, false, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidMessage, p.cfg.MaxBodyLength)
	}
	if req.GroupID <= 0 || req.UserID <= 0 {
		return nil, false, fmt.Errorf("%w: group_id and user_id are required", ErrInvalidMessage)
	}

	member, err := p.members.VerifyMembership(ctx, req.GroupID, req.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: membership lookup: %w", ErrStorage, err)
	}
	if !member {
		return nil, false, ErrNotAMember
	}

	identity, err := p.identities.DisplayIdentity(ctx, req.UserID)
	if errors.Is(err, models.ErrUnknownIdentity) {
		// Removed after the membership check.
		return nil, false, ErrNotAMember
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: identity lookup: %w", ErrStorage, err)
	}

	anonymous := false
	if req.IsAnonymous {
		allowed, err := p.members.GroupAllowsAnonymity(ctx, req.GroupID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: group lookup: %w", ErrStorage, err)
		}
		anonymous = allowed
	}

	return identity, anonymous, nil
}

func (p *Pipeline) trace(req models.SendMessageRequest, s stage) {
	logger.Debug("send group=%d user=%d: %s", req.GroupID, req.UserID, s)
}

func (p *Pipeline) fail(req models.SendMessageRequest, err error) error {
	if isStorageError(err) {
		logger.Error("send group=%d user=%d: %s: %v", req.GroupID, req.UserID, stageFailed, err)
	} else {
		logger.Debug("send group=%d user=%d: %s: %v", req.GroupID, req.UserID, stageFailed, err)
	}
	return err
}

func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Delivered:       p.delivered.Load(),
		Rejected:        p.rejected.Load(),
		StorageFailures: p.storageFailures.Load(),
	}
}
