// Package openapi embeds the OpenAPI YAML document for the medipay API.
package openapi

import _ "embed"

// YAML contains the embedded OpenAPI document.
//
//go:embed openapi.yaml
var YAML []byte
