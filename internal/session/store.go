// Package session はセッションIDとIdentityの対応を保持するプロセス内キャッシュと、
// セッションCookieの符号化を提供する。
//
// Storeはプロセス起動時に1つだけ生成され、プロセスが終了するまで生存する。
// 永続化は行わないため、再起動すると発行済みのセッションCookieはすべて無効になる。
package session

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hitoshi/pkgindex/internal/model"
)

// Store はセッションIDからIdentityへの並行安全なキャッシュ。
// 複数のリクエストゴルーチンから同時にPut/Get/Deleteしてよい。
// 異なるキー間の書き込み順序は保証しない。
type Store struct {
	identities *cache.Cache
}

// NewStore はStoreを生成する。
// ttlはエントリの有効期間で、Putのたびに延長される。
// cleanupIntervalは期限切れエントリを掃除する間隔。
func NewStore(ttl, cleanupInterval time.Duration) *Store {
	return &Store{
		identities: cache.New(ttl, cleanupInterval),
	}
}

// Put はセッションIDにIdentityを対応付ける。既存の対応は上書きし、有効期限を延長する。
func (s *Store) Put(sessionID string, identity *model.Identity) {
	s.identities.SetDefault(sessionID, identity)
}

// Get はセッションIDに対応するIdentityを返す。存在しないか期限切れの場合はfalseを返す。
func (s *Store) Get(sessionID string) (*model.Identity, bool) {
	v, found := s.identities.Get(sessionID)
	if !found {
		return nil, false
	}
	identity, ok := v.(*model.Identity)
	return identity, ok
}

// Delete はセッションを無効化する。
func (s *Store) Delete(sessionID string) {
	s.identities.Delete(sessionID)
}

// Len は保持しているセッション数を返す。期限切れで未掃除のエントリも含む。
func (s *Store) Len() int {
	return s.identities.ItemCount()
}
