package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/tableside-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	PubSub     pinger
	Settlement consumer
}

// Service runs the billing subscription consumer once every dependency answers.
type Service struct {
	logg       *logger.Logger
	db         pinger
	redis      pinger
	pubsub     pinger
	settlement consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Settlement == nil {
		return nil, errors.New("settlement consumer is required")
	}
	return &Service{
		logg:       params.Logger,
		db:         params.DB,
		redis:      params.Redis,
		pubsub:     params.PubSub,
		settlement: params.Settlement,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		p    pinger
	}{
		{"database", s.db},
		{"redis", s.redis},
		{"pubsub", s.pubsub},
	} {
		if err := dep.p.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	err := s.settlement.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "settlement consumer stopped unexpectedly", err)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctxErr
	}
	return err
}
