package password

import (
	"time"
)

// Observer はハッシュ計算の所要時間を受け取るインターフェース。
// metrics.Collectorが実装する。
type Observer interface {
	ObserveHashDuration(operation string, d time.Duration)
}

// BoundedHasher は同時に実行されるハッシュ計算の数を制限するHasherのラッパー。
// argon2idは1回あたり数十MBのメモリを確保するため、認証リクエストが集中しても
// 上限を超えて並列実行されないようにsemaphoreパターンで制御する。
// 上限未満のリクエスト同士は互いを待たない。
type BoundedHasher struct {
	inner    Hasher
	sem      chan struct{}
	observer Observer
}

// NewBoundedHasher はBoundedHasherを生成する。
// maxConcurrentが0以下の場合は1を使用する。observerはnilでもよい。
func NewBoundedHasher(inner Hasher, maxConcurrent int, observer Observer) *BoundedHasher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &BoundedHasher{
		inner:    inner,
		sem:      make(chan struct{}, maxConcurrent),
		observer: observer,
	}
}

// Hash はスロットを確保してからハッシュ化する。
func (b *BoundedHasher) Hash(secret []byte) (string, error) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	start := time.Now()
	encoded, err := b.inner.Hash(secret)
	b.observe("hash", start)
	return encoded, err
}

// Verify はスロットを確保してから検証する。
func (b *BoundedHasher) Verify(secret []byte, encoded string) bool {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	start := time.Now()
	ok := b.inner.Verify(secret, encoded)
	b.observe("verify", start)
	return ok
}

// InFlight は現在実行中のハッシュ計算の数を返す。テスト用。
func (b *BoundedHasher) InFlight() int {
	return len(b.sem)
}

func (b *BoundedHasher) observe(op string, start time.Time) {
	if b.observer != nil {
		b.observer.ObserveHashDuration(op, time.Since(start))
	}
}

var _ Hasher = (*BoundedHasher)(nil)
