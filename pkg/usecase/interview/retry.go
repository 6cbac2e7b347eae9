package interview

import (
	"context"

	"github.com/m-mizutani/kiku/pkg/utils/logging"
)

// boundedRetry is the single retry combinator shared by the validation
// mechanisms. gen produces a candidate (receiving corrective feedback from
// the previous verify round, empty on the first attempt); verify returns
// non-empty feedback when the candidate must be regenerated.
//
// The candidate from the last attempt is returned even when feedback
// remains: the pipeline prefers continuity over strict correctness, so an
// exhausted retry budget degrades to a logged warning, never an error. Only
// when every gen call fails is the fallback value returned.
func boundedRetry[T any](ctx context.Context, maxRetries int, fallback T,
	gen func(ctx context.Context, feedback string) (T, error),
	verify func(ctx context.Context, candidate T) (string, error),
) (value T, attempts int, resolved bool) {
	logger := logging.From(ctx)

	feedback := ""
	haveValue := false
	value = fallback

	for attempts = 1; attempts <= maxRetries+1; attempts++ {
		candidate, err := gen(ctx, feedback)
		if err != nil {
			logger.Warn("generation attempt failed", "attempt", attempts, "error", err)
			if ctx.Err() != nil {
				return value, attempts, false
			}
			continue
		}
		value = candidate
		haveValue = true

		feedback, err = verify(ctx, candidate)
		if err != nil {
			// verification itself failed: accept the candidate
			logger.Warn("verification failed, accepting candidate", "attempt", attempts, "error", err)
			return value, attempts, true
		}
		if feedback == "" {
			return value, attempts, true
		}
		logger.Info("corrective retry", "attempt", attempts, "feedback", truncateRunes(feedback, 120))
	}

	return value, attempts - 1, haveValue && feedback == ""
}
