// Package middleware adapts a keyward.Engine to net/http.
//
// # Handlers
//
//   - [RateLimit] classifies the path, keys the bucket by client address and
//     answers 429 with Retry-After, or 503 when the bucket store is down.
//   - [RequireBearer] verifies the Authorization header and stores the
//     identity id in the request context.
//   - [Protect] chains both.
//
// Error responses are JSON objects with a single "error" field.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine.VerifyBearer).
//   - Touch Redis or bucket state (Engine.CheckRate owns both).
//   - Make authorization decisions beyond pass/reject.
package middleware
