// Package model finds the smoothable (norm, consumers) groups of a transformer
// checkpoint and drives the balancer over them.
//
// Each supported block family implements Block and reports its groups with a
// typed ScaleKey (block index + role). The caller's activation statistics are
// resolved against those keys before any parameter is modified, so a missing
// statistic aborts the pass without a partial rewrite.
//
// Supported architectures:
//   - opt: OPT decoder layers (LayerNorm; q/k/v and fc1)
//   - bloom: BLOOM blocks (LayerNorm; fused query_key_value and dense_h_to_4h)
//   - deit: timm ViT/DeiT blocks (LayerNorm; fused qkv and mlp.fc1)
//   - llama, mistral: LLaMA-style decoder layers (RMSNorm; q/k/v and gate/up)
package model
