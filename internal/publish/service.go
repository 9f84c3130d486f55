package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/repository"
)

// OutcomeRecorder はパブリッシュ結果を記録するインターフェース。
// metrics.Collectorが実装する。
type OutcomeRecorder interface {
	RecordPublish(outcome model.PublishOutcome)
	RecordProbe(found bool)
}

// Options はパブリッシュ時に付随データを取り込むかどうかのフラグ。
type Options struct {
	IncludeReadme       bool
	IncludeContributors bool
	IncludeInfo         bool
	Keywords            []string
}

// Service はパブリッシュの存在確認と状態機械を実行する。
// 同一座標への並行パブリッシュは順序付けせず、ストレージ側の最後の書き込みが優先される。
type Service struct {
	releases repository.ReleaseRepository
	recorder OutcomeRecorder
}

// NewService はServiceを生成する。
func NewService(releases repository.ReleaseRepository, recorder OutcomeRecorder) *Service {
	return &Service{releases: releases, recorder: recorder}
}

// Exists はパスが指す座標がすでに公開済みかを返す。
// 上書きの可否は判定しない。見つかった座標がスナップショットなら上書きしてよいという判断は
// 呼び出し側のビルドツールに委ねる。
func (s *Service) Exists(ctx context.Context, path string) (bool, error) {
	coord, err := ParseCoordinate(path)
	if err != nil {
		return false, err
	}

	found, err := s.releases.Exists(ctx, coord)
	if err != nil {
		return false, fmt.Errorf("failed to check release existence: %w", err)
	}

	s.recorder.RecordProbe(found)
	slog.Debug("publish probe",
		slog.String("coordinate", coord.String()),
		slog.Bool("found", found),
	)
	return found, nil
}

// Publish は検証済みの資格情報でパブリッシュ状態機械を1回だけ実行する。
//
//	PARSE → 不正: PublishRejectedMalformed
//	      → ディスクリプタ以外: PublishAcceptedNoop（保存しない）
//	      → ディスクリプタ: STORE → PublishComplete / PublishFailed
//
// 内部でのリトライは行わない。
func (s *Service) Publish(
	ctx context.Context,
	path string,
	payload []byte,
	opts Options,
	credential model.PublishCredential,
) (model.PublishOutcome, error) {
	coord, err := ParseCoordinate(path)
	if err != nil {
		s.recorder.RecordPublish(model.PublishRejectedMalformed)
		return model.PublishRejectedMalformed, err
	}

	if !IsDescriptor(path) {
		s.recorder.RecordPublish(model.PublishAcceptedNoop)
		slog.Info("publish accepted without store",
			slog.String("coordinate", coord.String()),
			slog.String("path", path),
			slog.String("publisher", credential.Username),
		)
		return model.PublishAcceptedNoop, nil
	}

	req := &model.PublishRequest{
		Coordinate:          coord,
		Payload:             payload,
		IsDescriptor:        true,
		IncludeReadme:       opts.IncludeReadme,
		IncludeContributors: opts.IncludeContributors,
		IncludeInfo:         opts.IncludeInfo,
		Keywords:            opts.Keywords,
		Credential:          credential,
	}

	if err := s.releases.Store(ctx, req); err != nil {
		s.recorder.RecordPublish(model.PublishFailed)
		return model.PublishFailed, fmt.Errorf("failed to store release %s: %w", coord, err)
	}

	s.recorder.RecordPublish(model.PublishComplete)
	slog.Info("release published",
		slog.String("coordinate", coord.String()),
		slog.String("publisher", credential.Username),
		slog.Bool("snapshot", coord.IsSnapshot()),
		slog.Int("payload_bytes", len(payload)),
	)
	return model.PublishComplete, nil
}
