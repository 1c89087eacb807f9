// Package layers plans and builds the content-addressed image stack for
// a workspace: which recipes apply, in what order, under what tags, and
// whether the images that exist are still fresh.
package layers

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

//go:embed recipes/*.Containerfile
var recipeFS embed.FS

// Labels recorded on every image the builder produces. Freshness checks
// compare them against the planner's current view.
const (
	LabelRecipeHash   = "ai.jail.recipe.hash"
	LabelParentDigest = "ai.jail.parent.digest"
)

var (
	recipesOnce sync.Once
	recipeBytes map[string][]byte
	recipeHash  map[string]string
)

func loadRecipes() {
	entries, err := recipeFS.ReadDir("recipes")
	if err != nil {
		// The recipes are compiled in; a missing directory is a broken
		// build, not a runtime condition.
		panic(fmt.Sprintf("embedded recipes unavailable: %v", err))
	}
	recipeBytes = make(map[string][]byte, len(entries))
	recipeHash = make(map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		data, err := recipeFS.ReadFile("recipes/" + name)
		if err != nil {
			panic(fmt.Sprintf("embedded recipe %s unavailable: %v", name, err))
		}
		recipe := name[:len(name)-len(".Containerfile")]
		recipeBytes[recipe] = data
		recipeHash[recipe] = HashRecipe(data)
	}
}

// Recipe returns the embedded recipe bytes for a layer name.
func Recipe(name string) ([]byte, bool) {
	recipesOnce.Do(loadRecipes)
	b, ok := recipeBytes[name]
	return b, ok
}

// RecipeHash returns the content hash of an embedded recipe. The side
// table is computed once per process from the recipe bytes.
func RecipeHash(name string) (string, bool) {
	recipesOnce.Do(loadRecipes)
	h, ok := recipeHash[name]
	return h, ok
}

// RecipeNames lists the embedded recipe inventory, sorted.
func RecipeNames() []string {
	recipesOnce.Do(loadRecipes)
	names := make([]string, 0, len(recipeBytes))
	for n := range recipeBytes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HashRecipe computes the content hash recorded in image labels:
// the first 16 hex characters of the SHA-256 of the recipe bytes.
func HashRecipe(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// ShortDigest computes the 6-hex-character digest appended to stack
// tags for workspace-local custom recipes.
func ShortDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:6]
}
