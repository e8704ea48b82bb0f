package universe

import "strings"

// industryKeywords maps an industry tag to the name substrings that imply
// it. Order matters: the first match wins, grounded on the name-keyword
// fallback in the original scanner's industry classifier.
var industryKeywords = []struct {
	tag      string
	keywords []string
}{
	{"banking", []string{"银行", "农商", "农信", "信用社"}},
	{"insurance", []string{"保险", "人寿", "财险", "太保"}},
	{"securities", []string{"证券", "期货", "信托", "投资"}},
	{"technology", []string{"科技", "软件", "网络", "计算机", "信息", "数据", "云", "互联网", "智能"}},
	{"healthcare", []string{"医药", "生物", "制药", "医疗", "健康", "药业", "医院"}},
	{"consumer", []string{"食品", "饮料", "酒", "零售", "商贸", "百货", "超市", "餐饮"}},
	{"energy", []string{"石油", "化工", "煤炭", "天然气", "石化", "能源"}},
	{"automotive", []string{"汽车", "客车", "货车", "轮胎", "汽配"}},
	{"manufacturing", []string{"机械", "装备", "工程", "制造", "重工", "机电"}},
	{"real_estate", []string{"地产", "房地产", "置业", "发展", "建设", "城建"}},
	{"agriculture", []string{"农业", "林业", "牧业", "渔业", "种业", "饲料"}},
}

// ClassifyByName derives a best-effort industry tag from a ticker's
// display name when the upstream provider leaves the industry field empty,
// so industry filters still partition that ticker instead of dropping it.
func ClassifyByName(name string) string {
	for _, entry := range industryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(name, kw) {
				return entry.tag
			}
		}
	}
	return "other"
}
