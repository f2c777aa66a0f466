package auth

import "context"

type subjectKey struct{}

// WithSubject stores the authenticated user id. Handlers take it as the
// caller's identity and never read a user id from the request body.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}
