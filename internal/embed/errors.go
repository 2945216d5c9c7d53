package embed

import "errors"

var errEmptyEmbedding = errors.New("empty embedding response")
