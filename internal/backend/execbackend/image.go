package execbackend

import "strings"

// DefaultRegistry is the registry bare image names resolve against.
const DefaultRegistry = "docker.io"

// NormalizeImage applies spec.md §4.1's image normalization rules:
//   - a bare name (no tag, no slash) resolves to the default registry
//     under the "library" namespace, tagged "latest";
//   - a name with a tag but no slash resolves to the default registry
//     under "library", keeping the given tag;
//   - a name containing a slash is assumed to already be fully qualified
//     and passes through unchanged.
func NormalizeImage(image string) string {
	if strings.Contains(image, "/") {
		return image
	}

	name, tag, hasTag := strings.Cut(image, ":")
	if !hasTag {
		tag = "latest"
	}
	return DefaultRegistry + "/library/" + name + ":" + tag
}
