package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/pkgindex/internal/model"
)

// PostgresReleaseRepo はPostgreSQLを使用したリリースリポジトリ。
type PostgresReleaseRepo struct {
	db *sql.DB
}

// NewPostgresReleaseRepo はPostgresReleaseRepoを生成する。
func NewPostgresReleaseRepo(db *sql.DB) *PostgresReleaseRepo {
	return &PostgresReleaseRepo{db: db}
}

// Exists は座標のリリースが存在するかを返す。
func (r *PostgresReleaseRepo) Exists(ctx context.Context, coord model.MavenCoordinate) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM releases
		   WHERE group_id = $1 AND artifact_id = $2 AND version = $3
		 )`,
		coord.GroupID, coord.ArtifactID, coord.Version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check release: %w", err)
	}
	return exists, nil
}

// Store はリリースをUPSERTする。
// 並行パブリッシュの排他制御は行わず、後から到着した書き込みが残る。
func (r *PostgresReleaseRepo) Store(ctx context.Context, req *model.PublishRequest) error {
	keywords := req.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO releases (
		   group_id, artifact_id, version, pom,
		   include_readme, include_contributors, include_info, keywords, publisher
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (group_id, artifact_id, version) DO UPDATE SET
		   pom = EXCLUDED.pom,
		   include_readme = EXCLUDED.include_readme,
		   include_contributors = EXCLUDED.include_contributors,
		   include_info = EXCLUDED.include_info,
		   keywords = EXCLUDED.keywords,
		   publisher = EXCLUDED.publisher,
		   updated_at = now()`,
		req.Coordinate.GroupID, req.Coordinate.ArtifactID, req.Coordinate.Version, req.Payload,
		req.IncludeReadme, req.IncludeContributors, req.IncludeInfo, pq.Array(keywords),
		req.Credential.Username,
	)
	if err != nil {
		return fmt.Errorf("failed to store release: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ReleaseRepository = (*PostgresReleaseRepo)(nil)
