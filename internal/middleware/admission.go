package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/authgate/internal/model"
)

// AdmissionRecorder はアドミッション判定の結果を記録する。
type AdmissionRecorder interface {
	RecordAdmission(allowed bool)
}

// Admission はプロセス全体で共有する単一のトークンバケットによるアドミッション制御。
// クライアントやユーザーごとには分けず、システム全体のスループットを制限する。
type Admission struct {
	limiter  *rate.Limiter
	rps      rate.Limit
	now      func() time.Time
	recorder AdmissionRecorder
}

// NewAdmission はrps（1秒あたりの補充トークン数）とburst（バケット容量）でAdmissionを生成する。
// バケットは満杯の状態で開始する。recorderはnilでもよい。
func NewAdmission(rps, burst int, recorder AdmissionRecorder) (*Admission, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("admission rate must be positive: %d", rps)
	}
	if burst <= 0 {
		return nil, fmt.Errorf("admission burst must be positive: %d", burst)
	}
	return &Admission{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		rps:      rate.Limit(rps),
		now:      time.Now,
		recorder: recorder,
	}, nil
}

// Check は現在時刻でトークンを1つ消費できるか判定する。
func (a *Admission) Check() bool {
	return a.CheckAt(a.now())
}

// CheckAt は時刻tまでの経過時間分を補充したうえでトークンを1つ消費する。
// 補充と消費はアトミックに行われ、並行呼び出しに対して安全。
func (a *Admission) CheckAt(t time.Time) bool {
	allowed := a.limiter.AllowN(t, 1)
	if a.recorder != nil {
		a.recorder.RecordAdmission(allowed)
	}
	return allowed
}

// RetryAfterSeconds はトークンが1つ補充されるまでの秒数（切り上げ、最小1）を返す。
func (a *Admission) RetryAfterSeconds() int {
	sec := int(math.Ceil(1.0 / float64(a.rps)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// Middleware はアドミッション制御ミドルウェアを返す。
// 拒否時は後続のハンドラーを呼び出さず、429とRetry-Afterヘッダーを返す。
func (a *Admission) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Check() {
				slog.Warn("admission denied",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(a.RetryAfterSeconds()))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
