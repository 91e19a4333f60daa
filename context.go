package goGate

import "context"

type admissionContextKey struct{}

// WithAdmission attaches a successful admission to ctx. Boundary middleware
// uses it to hand the resolved principal to handlers.
func WithAdmission(ctx context.Context, adm Admission) context.Context {
	return context.WithValue(ctx, admissionContextKey{}, adm)
}

// AdmissionFromContext returns the admission stored by [WithAdmission].
func AdmissionFromContext(ctx context.Context) (Admission, bool) {
	if ctx == nil {
		return Admission{}, false
	}
	adm, ok := ctx.Value(admissionContextKey{}).(Admission)
	return adm, ok
}

// PrincipalFromContext returns the principal of the stored admission, if a
// role was required for it.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	adm, ok := AdmissionFromContext(ctx)
	if !ok || adm.Principal == nil {
		return Principal{}, false
	}
	return *adm.Principal, true
}
