package recipe

import "errors"

var (
	ErrInvalidRecipe  = errors.New("invalid recipe")
	ErrRecipeNotFound = errors.New("recipe not found")
)
