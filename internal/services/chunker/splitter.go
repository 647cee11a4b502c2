package chunker

import "strings"

// splitSeparators orders boundaries from coarse to fine; the empty separator
// means a hard character cut.
var splitSeparators = []string{"\n\n", "\n", " ", ""}

// splitText splits text into chunks of at most size characters, preferring
// paragraph, then line, then word boundaries, and sharing up to overlap
// characters between adjacent chunks.
func splitText(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap >= size {
		overlap = 0
	}
	return recursiveSplit(text, splitSeparators, size, overlap)
}

func recursiveSplit(text string, separators []string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	if separator == "" {
		return hardSplit(text, size, overlap)
	}

	var chunks []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			chunks = append(chunks, mergeSplits(pending, separator, size, overlap)...)
			pending = nil
		}
	}

	for _, part := range strings.Split(text, separator) {
		if len(part) <= size {
			pending = append(pending, part)
			continue
		}
		// An oversized part has no boundary at this level, so recurse
		// with the finer separators.
		flush()
		chunks = append(chunks, recursiveSplit(part, remaining, size, overlap)...)
	}
	flush()
	return chunks
}

// mergeSplits joins boundary-sized parts back into chunks close to size,
// carrying a tail of parts forward so adjacent chunks overlap.
func mergeSplits(parts []string, separator string, size, overlap int) []string {
	sepLen := len(separator)
	var chunks []string
	var current []string
	total := 0

	emit := func() {
		if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, part := range parts {
		partLen := len(part)
		joined := total + partLen
		if len(current) > 0 {
			joined += sepLen
		}
		if len(current) > 0 && joined > size {
			emit()
			for len(current) > 0 {
				withNext := total + partLen + sepLen
				if total <= overlap && withNext <= size {
					break
				}
				drop := len(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, part)
		total += partLen
		if len(current) > 1 {
			total += sepLen
		}
	}
	emit()
	return chunks
}

// hardSplit cuts text with no usable boundaries at fixed strides.
func hardSplit(text string, size, overlap int) []string {
	stride := size - overlap
	if stride <= 0 {
		stride = size
	}

	var chunks []string
	for start := 0; start < len(text); start += stride {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
