package kv

// MatchPattern reports whether key matches the glob-style pattern used by CmdScan.
//
// Supported syntax (same as the SCAN MATCH option of redis):
//
//   - '*' matches any sequence of characters (including none)
//   - '?' matches exactly one character
//   - '[abc]', '[^abc]', '[a-z]' match one character of (or not of) a set
//   - '\x' matches the character x literally
//
// Unlike path.Match, '*' also matches '/'.
func MatchPattern(pattern, key string) bool {
	p, k := 0, 0
	// position to resume from after the last '*'
	starP, starK := -1, 0

	for k < len(key) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starK = p, k
				p++
				continue
			case '?':
				p++
				k++
				continue
			case '[':
				if matched, next, ok := matchClass(pattern, p, key[k]); ok {
					if matched {
						p = next
						k++
						continue
					}
				} else if key[k] == '[' { // unterminated class, treat '[' literally
					p++
					k++
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == key[k] {
					p += 2
					k++
					continue
				}
			default:
				if pattern[p] == key[k] {
					p++
					k++
					continue
				}
			}
		}
		// mismatch: backtrack to the last star
		if starP < 0 {
			return false
		}
		starK++
		p, k = starP+1, starK
	}

	// skip trailing stars
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the class starting at pattern[start] == '['.
// It returns whether c matched, the index after the closing ']' and whether the class was well-formed.
func matchClass(pattern string, start int, c byte) (matched bool, next int, ok bool) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}
	first := true
	for i < len(pattern) {
		if pattern[i] == ']' && !first {
			return matched != negate, i + 1, true
		}
		first = false

		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}
		hi := lo
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi = pattern[i+2]
			i += 2
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if c >= lo && c <= hi {
			matched = true
		}
		i++
	}
	return false, 0, false
}
