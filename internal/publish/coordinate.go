// Package publish はMavenリポジトリ互換のパブリッシュプロトコルを提供する。
package publish

import (
	"fmt"
	"strings"

	"github.com/hitoshi/pkgindex/internal/model"
)

// descriptorSuffix はMaven座標のディスクリプタ（POM）のファイル拡張子。
const descriptorSuffix = ".pom"

// ParseCoordinate はリポジトリ形式のパスをMaven座標に変換する。
//
//	/com/github/scyks/playacl_2.11/0.8.0/playacl_2.11-0.8.0.pom
//	→ groupId=com.github.scyks, artifactId=playacl_2.11, version=0.8.0
//
// 最後のセグメント（ファイル名）は座標の決定には使わない。
// 解析できない場合はmodel.ErrMalformedCoordinateを返す。
func ParseCoordinate(path string) (model.MavenCoordinate, error) {
	segments := strings.Split(path, "/")
	if len(segments) > 0 && segments[0] == "" {
		segments = segments[1:]
	}

	// group(1つ以上)/artifact/version/filename
	if len(segments) < 4 {
		return model.MavenCoordinate{}, fmt.Errorf("%w: %q", model.ErrMalformedCoordinate, path)
	}

	n := len(segments)
	group := segments[:n-3]
	for _, s := range group {
		if s == "" {
			return model.MavenCoordinate{}, fmt.Errorf("%w: empty group segment in %q", model.ErrMalformedCoordinate, path)
		}
	}

	coord := model.MavenCoordinate{
		GroupID:    strings.Join(group, "."),
		ArtifactID: segments[n-3],
		Version:    segments[n-2],
	}
	if coord.ArtifactID == "" || coord.Version == "" {
		return model.MavenCoordinate{}, fmt.Errorf("%w: %q", model.ErrMalformedCoordinate, path)
	}

	return coord, nil
}

// IsDescriptor はパスが座標のディスクリプタ（POM）を指すかを返す。
// バイナリやソースjar、チェックサムなどの付随ファイルはfalse。
func IsDescriptor(path string) bool {
	return strings.HasSuffix(path, descriptorSuffix)
}
