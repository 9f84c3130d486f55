package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/pkgindex/internal/middleware"
	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/publish"
)

// maxPublishPayloadBytes はパブリッシュで受け付けるボディサイズの上限。
const maxPublishPayloadBytes = 32 << 20

// PublishServiceInterface はパブリッシュハンドラーが必要とするサービスインターフェース。
type PublishServiceInterface interface {
	Exists(ctx context.Context, path string) (bool, error)
	Publish(ctx context.Context, path string, payload []byte, opts publish.Options, credential model.PublishCredential) (model.PublishOutcome, error)
}

// PublishHandler はMavenリポジトリ互換のパブリッシュエンドポイント。
type PublishHandler struct {
	service PublishServiceInterface
}

// NewPublishHandler はPublishHandlerを生成する。
func NewPublishHandler(service PublishServiceInterface) *PublishHandler {
	return &PublishHandler{service: service}
}

// Probe はビルドツールからの存在確認に応答する。
// GET /publish?path=...
// 存在すれば200、存在しなければ404（書き込み可）。上書き可否の判断はクライアントに任せる。
func (h *PublishHandler) Probe(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	found, err := h.service.Exists(r.Context(), path)
	if err != nil {
		if errors.Is(err, model.ErrMalformedCoordinate) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMalformedCoordinateError(path))
			return
		}
		slog.Error("publish probe failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if !found {
		writeText(w, http.StatusNotFound, "not found")
		return
	}
	writeText(w, http.StatusOK, "found")
}

// Publish は成果物のアップロードを受け付ける。
// PUT /publish?path=...&readme=true&contributors=true&info=true&keywords=...
// 資格情報はBasicAuthミドルウェアで検証済みであること。
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	credential, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	query := r.URL.Query()
	path := query.Get("path")

	opts := publish.Options{
		IncludeReadme:       queryBool(query.Get("readme"), true),
		IncludeContributors: queryBool(query.Get("contributors"), true),
		IncludeInfo:         queryBool(query.Get("info"), true),
		Keywords:            query["keywords"],
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("failed to read publish payload", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	outcome, err := h.service.Publish(r.Context(), path, payload, opts, credential)
	switch outcome {
	case model.PublishComplete, model.PublishAcceptedNoop:
		w.WriteHeader(http.StatusCreated)
	case model.PublishRejectedMalformed:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMalformedCoordinateError(path))
	default:
		if err != nil {
			slog.Error("publish failed",
				slog.String("path", path),
				slog.String("publisher", credential.Username),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteInternalServerError(w)
	}
}

// queryBool はクエリパラメータの真偽値を解析する。未指定または解析できない場合はdefを返す。
func queryBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
