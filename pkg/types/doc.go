// Package types defines the field definition, option, and value entities, the
// remote API and storage interfaces, and the standard errors shared by every
// fieldkit package.
package types
