// Package errors provides the error types of the bridge.
//
// Three kinds of failure cross the API:
//
//   - Error: structured Go-side failures categorized by Phase (where) and
//     Kind (what), for example an option that cannot be translated.
//   - NativeError: a decoded engine error record. Branch on it with
//     errors.Is against the sentinels (ErrCancelled, ErrFileNotFound, ...)
//     or with errors.As and ErrorType.Category.
//   - PanicError: raised with panic() when the engine's panic record is set.
//     It marks a caller bug such as an undersized output buffer and is not
//     meant to be recovered from.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTranslate, errors.KindInvalidVariant).
//		Path("load_opts", "thread_opts", "pool").
//		Detail("pool and raw descriptor both set").
//		Build()
package errors
