package service

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/rpc"
)

// RegisterRPC exposes the assignment operations on srv.
func (s *Service) RegisterRPC(srv *rpc.Server) {
	srv.Register(proto.MethodAssign, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.AssignRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.Assign(ctx, req)
	})
	srv.Register(proto.MethodAssignFormation, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.FormationAssignRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.AssignFormation(ctx, req)
	})
	srv.Register(proto.MethodAssignBatch, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.BatchAssignRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return s.AssignBatch(ctx, req)
	})
}

func decode(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}
