// Package stopwords holds the stopword lists shared by keyword extraction
// and token reduction.
package stopwords

import (
	"strings"
	"sync"
)

var raw = map[string]string{
	"en": `a about above after again against all am an and any are aren't as at be because been before being
below between both but by can can't cannot could couldn't did didn't do does doesn't doing don't down during
each few for from further had hadn't has hasn't have haven't having he he'd he'll he's her here here's hers
herself him himself his how how's i i'd i'll i'm i've if in into is isn't it it's its itself let's me more most
mustn't my myself no nor not of off on once only or other ought our ours ourselves out over own same shan't she
she'd she'll she's should shouldn't so some such than that that's the their theirs them themselves then there
there's these they they'd they'll they're they've this those through to too under until up very was wasn't we
we'd we'll we're we've were weren't what what's when when's where where's which while who who's whom why why's
will with won't would wouldn't you you'd you'll you're you've your yours yourself yourselves also may might
must shall upon via within without`,
	"fr": `au aux avec ce ces dans de des du elle en et eux il ils je la le les leur lui ma mais me même mes moi
mon ne nos notre nous on ou par pas pour qu que qui sa se ses son sur ta te tes toi ton tu un une vos votre vous
c d j l à m n s t y été étée étées étés étant suis es est sommes êtes sont serai seras sera serons serez seront
étais était étions étiez étaient fus fut fûmes fûtes furent ai as avons avez ont aurai auras aura aurons aurez
auront avais avait avions aviez avaient eu ceci cela celà cet cette ici ils les leurs quel quels quelle quelles
sans soi comme donc dont où alors aussi très plus`,
	"de": `aber alle allem allen aller alles als also am an ander andere anderem anderen anderer anderes auch auf
aus bei bin bis bist da damit dann das dass dasselbe dazu dein deine dem den denn der des dessen dich die dies
diese dieselbe diesem diesen dieser dieses dir doch dort du durch ein eine einem einen einer eines einig er es
etwas euch euer für gegen gewesen hab habe haben hat hatte hatten hier hin hinter ich ihm ihn ihnen ihr ihre im
in indem ins ist jede jedem jeden jeder jedes jene jetzt kann kein keine können man manche mein meine mich mir
mit muss musste nach nicht nichts noch nun nur ob oder ohne sehr sein seine selbst sich sie sind so solche soll
sondern sonst über um und uns unser unter viel vom von vor war waren warst was weg weil weiter welche wenn wer
werde werden wie wieder will wir wird wirst wo wollen würde zu zum zur zwar zwischen`,
	"es": `a al algo algunas algunos ante antes como con contra cual cuando de del desde donde durante e el ella
ellas ellos en entre era erais eran eras eres es esa esas ese eso esos esta estaba estado estas este esto estos
fue fueron fui ha había han hasta hay la las le les lo los más me mi mis mucho muy nada ni no nos nosotros o os
otra otros para pero poco por porque que quien se sea ser si sido sin sobre su sus también te tiene tu tus un
una uno unos vosotros y ya yo`,
}

var (
	once  sync.Once
	lists map[string]map[string]bool
)

func load() {
	lists = make(map[string]map[string]bool, len(raw))
	for lang, words := range raw {
		set := map[string]bool{}
		for _, w := range strings.Fields(words) {
			set[w] = true
		}
		lists[lang] = set
	}
}

// For returns the stopword set for an ISO 639-1 or 639-3 code. Unknown
// languages fall back to English. The set must not be modified.
func For(lang string) map[string]bool {
	once.Do(load)
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "_-+"); i >= 0 {
		lang = lang[:i]
	}
	if s, ok := lists[iso3to1(lang)]; ok {
		return s
	}
	return lists["en"]
}

// Is reports whether word is a stopword in lang.
func Is(lang, word string) bool {
	return For(lang)[strings.ToLower(word)]
}

func iso3to1(code string) string {
	switch code {
	case "eng":
		return "en"
	case "fra", "fre":
		return "fr"
	case "deu", "ger":
		return "de"
	case "spa":
		return "es"
	}
	return code
}
