// Package catalog holds the built-in vegetation index formulas and resolves
// index names into executable raster-algebra expressions.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
	"go.uber.org/zap"
)

// builtinFormulas maps every built-in index name to its raw formula. Formulas
// may reference other indices through func_index and per-band statistics
// through func_band_max/min/mean/stddev; both are expanded before evaluation.
// ExR_stary has no published formula, so selecting it fails at validation.
var builtinFormulas = map[string]string{
	"Rnorm":           "R / func_band_max(R)",
	"Gnorm":           "G / func_band_max(G)",
	"Bnorm":           "B / func_band_max(B)",
	"Rrefl_stary":     "R / (R + G + B)",
	"Grefl_stary":     "G / (R + G + B)",
	"Brefl_stary":     "B / (R + G + B)",
	"ExR_stary":       "MISSING",
	"ExG_stary":       "2 * func_index(Grefl_stary) - func_index(Rrefl_stary) - func_index(Brefl_stary)",
	"ExGR_stary":      "func_index(ExG_stary) - func_index(ExR_stary)",
	"ExR_wernette":    "1.4 * R - G",
	"ExG_wernette":    "2 * G - R - B",
	"ExB_wernette":    "1.4 * B - G",
	"ExGR_wernette":   "func_index(ExG_wernette) - func_index(ExR_wernette)",
	"NGRDI_wernette":  "(G - R) / (G + R)",
	"MGRVI_wernette":  "(G^2 - R^2) / (G^2 + R^2)",
	"GLI_wernette":    "(2 * G - R - B) / (2 * G + R + B)",
	"GLI_stary":       "((G - R)+ (G - B)) / (2 * G + R + B)",
	"RGBVI_wernette":  "(G - (B * R)) / (G^2 + (B * R))",
	"RGBVI_stary":     "(G ^ 2 - (B * R)) / (G ^ 2 + (B * R))",
	"IKAW_wernette":   "(R - B) / (R + B)",
	"GLA_wernette":    "((G - R) + (G - B)) / ((G + R) + (G + B))",
	"Gperc_stary":     "G / (R + G + B)",
	"VARI_stary":      "(G - R) / (G + R - B)",
	"TGI_stary":       "G - 0.39 * R - 0.61 * B",
	"ExR_george":      "1.4 * func_index(r_george) - func_index(g_george)",
	"ExG_george":      "2 * func_index(g_george) - func_index(r_george) - func_index(b_george)",
	"ExGR_george":     "func_index(ExG_george) - func_index(ExR_george)",
	"r_george":        "func_index(Rnorm) / (func_index(Rnorm) + func_index(Gnorm) + func_index(Bnorm))",
	"g_george":        "func_index(Gnorm) / (func_index(Rnorm) + func_index(Gnorm) + func_index(Bnorm))",
	"b_george":        "func_index(Bnorm) / (func_index(Rnorm) + func_index(Gnorm) + func_index(Bnorm))",
	"NGRDI_stary":     "(G - R) / (G + R)",
	"ExGRnorm_george": "(func_index(ExGR_george) + 2.4) / 5.4",
}

// funcPattern matches special function calls of the form func_<name>(<params>).
var funcPattern = regexp.MustCompile(`(func_(\w+)\(([^)]*)\))`)

// identPattern matches the band symbols left over once every special function
// call has been stripped from a formula.
var identPattern = regexp.MustCompile(`[A-Za-z_]\w*`)

// maxExpansionDepth bounds nested func_index inlining. The deepest built-in
// chain is five levels, so hitting the bound means a definition cycle.
const maxExpansionDepth = 32

type catalog struct {
	formulas map[string]string
	stats    port.StatsProvider
	log      *zap.Logger
}

// New builds the built-in catalog over the given statistics provider, which
// feeds the func_band_* substitutions.
func New(stats port.StatsProvider, log *zap.Logger) port.IndexCatalog {
	return &catalog{formulas: builtinFormulas, stats: stats, log: log}
}

// Names lists every built-in index in lexical order.
func Names() []string {
	names := make([]string, 0, len(builtinFormulas))
	for name := range builtinFormulas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *catalog) Resolve(index string) (string, error) {
	formula, ok := c.formulas[index]
	if !ok {
		return "", fmt.Errorf("%q: %w", index, domain.ErrUnknownIndex)
	}
	return formula, nil
}

func (c *catalog) RequiredBands(index string) ([]string, error) {
	formula, err := c.inlineIndices(index)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	// Arguments of the remaining func_band_* calls are band symbols too.
	rest := funcPattern.ReplaceAllStringFunc(formula, func(match string) string {
		groups := funcPattern.FindStringSubmatch(match)
		for _, param := range splitParams(groups[3]) {
			seen[param] = true
		}
		return " "
	})
	for _, symbol := range identPattern.FindAllString(rest, -1) {
		seen[symbol] = true
	}

	bands := make([]string, 0, len(seen))
	for band := range seen {
		bands = append(bands, band)
	}
	sort.Strings(bands)
	return bands, nil
}

func (c *catalog) Expand(ctx context.Context, index, inputFile string, bandMapping map[string]int) (string, error) {
	formula, err := c.inlineIndices(index)
	if err != nil {
		return "", err
	}

	for {
		matches := funcPattern.FindAllStringSubmatch(formula, -1)
		if len(matches) == 0 {
			break
		}
		for _, match := range matches {
			whole, name, params := match[1], match[2], match[3]
			args := splitParams(params)
			if len(args) != 1 {
				return "", fmt.Errorf("func_%s expects one band symbol, got %q", name, params)
			}

			band, ok := bandMapping[args[0]]
			if !ok {
				return "", fmt.Errorf("func_%s references band %q missing from the band mapping", name, args[0])
			}
			stats, err := c.stats.BandStatistics(ctx, inputFile, band)
			if err != nil {
				return "", fmt.Errorf("band statistics for %s band %d: %w", inputFile, band, err)
			}

			var value float64
			switch name {
			case "band_max":
				value = stats.Max
			case "band_min":
				value = stats.Min
			case "band_mean":
				value = stats.Mean
			case "band_stddev":
				value = stats.StdDev
			default:
				return "", fmt.Errorf("unknown special function func_%s", name)
			}
			formula = strings.ReplaceAll(formula, whole, strconv.FormatFloat(value, 'f', -1, 64))
		}
	}

	c.log.Debug("Built index formula", zap.String("index", index), zap.String("formula", formula))
	return formula, nil
}

// inlineIndices rewrites func_index references until none remain, bounding
// the depth so a definition cycle fails instead of looping forever.
func (c *catalog) inlineIndices(index string) (string, error) {
	formula, err := c.Resolve(index)
	if err != nil {
		return "", err
	}

	for depth := 0; ; depth++ {
		replaced := false
		for _, match := range funcPattern.FindAllStringSubmatch(formula, -1) {
			whole, name, params := match[1], match[2], match[3]
			if name != "index" {
				continue
			}
			args := splitParams(params)
			if len(args) != 1 {
				return "", fmt.Errorf("func_index expects one index name, got %q", params)
			}
			inner, ok := c.formulas[args[0]]
			if !ok {
				return "", fmt.Errorf("%q: %w", args[0], domain.ErrUnknownIndex)
			}
			formula = strings.ReplaceAll(formula, whole, "("+inner+")")
			replaced = true
		}
		if !replaced {
			return formula, nil
		}
		if depth >= maxExpansionDepth {
			return "", fmt.Errorf("index %s expands beyond depth %d, formula definitions form a cycle", index, maxExpansionDepth)
		}
	}
}

func splitParams(params string) []string {
	var out []string
	for _, param := range strings.Split(params, ",") {
		if param = strings.TrimSpace(param); param != "" {
			out = append(out, param)
		}
	}
	return out
}
