package store

// stopwords is the frozen English stoplist applied by the tokenizer. It covers
// function words, modal verbs, and the fragments produced when contractions
// are split on the apostrophe ("we'll" -> "we", "ll").
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range stopwordList {
		stopwords[w] = struct{}{}
	}
}

var stopwordList = []string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "when",
	"at", "by", "for", "with", "about", "against", "between", "into",
	"through", "during", "before", "after", "above", "below", "to", "from",
	"up", "down", "in", "out", "on", "off", "over", "under", "again",
	"further", "once", "here", "there", "all", "each", "few", "more",
	"most", "other", "some", "such", "no", "nor", "not", "only", "own",
	"same", "so", "than", "too", "very", "just", "can", "will", "should",
	"now", "i", "me", "my", "myself", "we", "our", "ours", "ourselves",
	"you", "your", "yours", "yourself", "yourselves", "he", "him", "his",
	"himself", "she", "her", "hers", "herself", "it", "its", "itself",
	"they", "them", "their", "theirs", "themselves", "what", "which",
	"who", "whom", "this", "that", "these", "those", "am", "is", "are",
	"was", "were", "be", "been", "being", "have", "has", "had", "having",
	"do", "does", "did", "doing", "would", "could", "ought", "of", "as",
	"how", "why", "because", "while", "also", "any", "both", "either",
	"neither",
	// Modal verbs
	"may", "might", "must", "shall",
	// Location/time
	"where", "until", "since", "yet", "still", "upon", "within",
	"without", "well",
	// Contraction fragments
	"ll", "ve", "re", "d", "m", "s", "t",
	"don", "won", "aren", "couldn", "didn", "doesn", "hadn", "hasn",
	"haven", "isn", "mustn", "needn", "shan", "shouldn", "wasn", "weren",
	"wouldn",
}
