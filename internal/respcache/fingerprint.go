package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aideepspeak/pkg/models"
)

// Fingerprint derives the cache key for a model request. The same prompt,
// model, sampling parameters and seed always produce the same key, across
// runs and across processes.
func Fingerprint(prompt, model string, params models.ModelParams, seed int) string {
	content := normalizePrompt(prompt) + ":" + model + ":" + canonicalParams(params) + ":" + strconv.Itoa(seed)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// normalizePrompt strips per-line and surrounding whitespace so that
// insignificant formatting differences do not defeat cache hits.
func normalizePrompt(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// canonicalParams renders the sampling knobs as sorted key=value pairs with
// fixed number formatting. Map iteration order or locale-dependent float
// rendering would make fingerprints unstable.
func canonicalParams(params models.ModelParams) string {
	pairs := map[string]string{
		"max_tokens":  strconv.Itoa(params.MaxTokens),
		"temperature": strconv.FormatFloat(params.Temperature, 'g', -1, 64),
		"top_k":       strconv.Itoa(params.TopK),
		"top_p":       strconv.FormatFloat(params.TopP, 'g', -1, 64),
	}

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, pairs[key]))
	}
	return strings.Join(parts, ",")
}
