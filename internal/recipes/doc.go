// Package recipes builds version detectors, migration strategies, and the
// identifier validator from declarative configuration.
//
// A recipe strategy rewrites artifact content with ordered regular expression
// replacements, optionally renames the artifact identity, and stamps the
// produced version into the artifact's version marker.
package recipes
