// Package smooth migrates activation outliers into weights ahead of low-bit
// quantization.
//
// For a normalization layer N feeding linear layers L1..Lk with no nonlinearity
// in between, the Balancer computes a per-channel scale
//
//	s[c] = a[c]^alpha / w[c]^(1-alpha)
//
// where a[c] is the observed activation magnitude of channel c and w[c] is the
// largest absolute weight any consumer applies to that channel. It then divides
// N's gamma and beta by s and multiplies column c of every consumer weight by
// s[c]. Because Li(N(x)) only sees the product of the two, the composed function
// is unchanged up to rounding; activations shrink and weights grow.
//
// Both w and s are clamped to a floor (1e-5 by default) so dead channels
// receive a tiny scale instead of a division by zero.
//
// # Ownership
//
// Apply borrows the layers for the duration of one call and keeps no reference
// to them. Parameters are rewritten in place, so every holder of the layer
// observes the new values as soon as Apply returns. Callers must guarantee a
// single writer per layer and must not run inference through the model while a
// smoothing pass is in progress. Distinct (norm, consumers) groups share no
// parameters and may be smoothed concurrently.
//
// Example:
//
//	err := smooth.Apply(block.AttnNorm, []nn.Projection{q, k, v}, actScales, 0.5)
//	if err != nil {
//	    log.Fatal(err)
//	}
package smooth
