package stopwatch

import "context"

type sectionKey struct{}

// WithSection carries s down a call chain so nested code can time itself
// under the section of the unit of work it runs for.
func WithSection(ctx context.Context, s *Section) context.Context {
	return context.WithValue(ctx, sectionKey{}, s)
}

// SectionFromContext returns the section stored by WithSection. It returns
// nil when there is none; every Section method accepts a nil receiver, so
// the result can be used without checking.
func SectionFromContext(ctx context.Context) *Section {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(sectionKey{}).(*Section)
	return s
}
