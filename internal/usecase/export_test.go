package usecase

import "context"

// PendingState reports the number of in-flight builds and multiplexers. It
// also serves as a barrier for everything posted to the router before it.
func (r *Router) PendingState() (builds, muxes int) {
	_ = r.do(context.Background(), func() {
		builds, muxes = len(r.builds), len(r.muxes)
	})
	return builds, muxes
}
