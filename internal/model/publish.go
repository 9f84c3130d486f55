package model

import "strings"

// MavenCoordinate はgroupId/artifactId/versionで識別される公開単位を表す。
type MavenCoordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// String は "groupId:artifactId:version" 形式の文字列を返す。
func (c MavenCoordinate) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

// IsSnapshot はバージョンがスナップショット（上書き可能）かどうかを返す。
func (c MavenCoordinate) IsSnapshot() bool {
	return strings.HasSuffix(c.Version, "-SNAPSHOT")
}

// PublishRequest は1回のパブリッシュリクエストを表す。
type PublishRequest struct {
	Coordinate          MavenCoordinate
	Payload             []byte
	IsDescriptor        bool
	IncludeReadme       bool
	IncludeContributors bool
	IncludeInfo         bool
	Keywords            []string
	Credential          PublishCredential
}

// PublishOutcome はパブリッシュ状態機械の終端状態を表す。
type PublishOutcome string

const (
	// PublishRejectedAuth は資格情報の検証に失敗した状態。
	PublishRejectedAuth PublishOutcome = "rejected_auth"
	// PublishRejectedMalformed はパスから座標を解析できなかった状態。
	PublishRejectedMalformed PublishOutcome = "rejected_malformed"
	// PublishAcceptedNoop はディスクリプタ以外の成果物を保存せずに受理した状態。
	PublishAcceptedNoop PublishOutcome = "accepted_noop"
	// PublishComplete はディスクリプタを保存した状態。
	PublishComplete PublishOutcome = "complete"
	// PublishFailed はストレージへの書き込みに失敗した状態。
	PublishFailed PublishOutcome = "failed"
)
