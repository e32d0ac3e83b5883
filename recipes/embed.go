// Package recipes embeds the default box recipes and their build context files.
package recipes

import "embed"

// FS holds every bundled recipe (*.yml) and the files recipes copy into the box
//
//go:embed *.yml entrypoint.sh
var FS embed.FS

// Default is the recipe used when none is configured
const Default = "ldhcpd"
