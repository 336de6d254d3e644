package index

// ShardPath computes the sparse-index path segment for a normalized
// crate name, matching cargo's sharding rule:
//
//	len == 1  -> "1/<n>"
//	len == 2  -> "2/<nn>"
//	len == 3  -> "3/<n0>/<nnn>"
//	len >= 4  -> "<n0n1>/<n2n3>/<name>"
func ShardPath(name string) string {
	switch len(name) {
	case 0:
		return ""
	case 1:
		return "1/" + name
	case 2:
		return "2/" + name
	case 3:
		return "3/" + name[:1] + "/" + name
	default:
		return name[:2] + "/" + name[2:4] + "/" + name
	}
}
