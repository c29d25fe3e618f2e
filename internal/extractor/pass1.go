package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"resume-match-go/internal/types"
)

// 第一趟提取用的正则，面向英文简历的常见排版
var (
	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	phonePattern = regexp.MustCompile(`(\+?1[-.\s]?)?(\(?\d{3}\)?[-.\s]?)?\d{3}[-.\s]?\d{4}`)

	linkedinPattern = regexp.MustCompile(`https?://(www\.)?linkedin\.com/in/[A-Za-z0-9\-_]+`)
	// <a href="https://linkedin.com/in/..."> 形式
	linkedinHrefPattern = regexp.MustCompile(`(?i)href=["'](https?://(www\.)?linkedin\.com/in/[A-Za-z0-9\-_]+)["']`)

	yearsPattern = regexp.MustCompile(`(?i)(\d{1,2})\+?\s+years? (of )?experience`)

	degreePattern = regexp.MustCompile(`(?i)(Ph\.?D\.?|Doctorate|M\.?S\.?|MSc|MBA|B\.?S\.?|BA|BSc|M\.?A\.?|Master of Science|Master of Arts|Bachelor of Science|Bachelor of Arts)`)

	experienceHeaderPattern = regexp.MustCompile(`(?i)\bExperience\b|\bWork History\b|\bProfessional Experience\b`)
	skillsHeaderPattern     = regexp.MustCompile(`(?i)\bSkills\b|\bTechnical Skills\b`)
	sectionBreakPattern     = regexp.MustCompile(`(?i)\bExperience\b|\bWork History\b`)

	locationPattern = regexp.MustCompile(`[A-Za-z]+,\s*[A-Z]{2}`)
)

// 技能条目长度上限，过长的通常是整句描述而非技能词
const maxSkillLen = 40

// 位置信息只在简历头部找
const locationScanLines = 10

// ExtractBasic 第一趟确定性提取：纯正则与行扫描，不发起任何 oracle 调用。
// 找不到的字段留空，由第二趟补齐。
func ExtractBasic(resumeText string) *types.CandidateProfile {
	p := &types.CandidateProfile{}
	lines := strings.Split(resumeText, "\n")

	// email 统一小写
	if m := emailPattern.FindString(resumeText); m != "" {
		p.Email = strings.ToLower(m)
	}

	if m := phonePattern.FindString(resumeText); m != "" {
		p.Phone = m
	}

	if m := linkedinPattern.FindString(resumeText); m != "" {
		p.LinkedIn = m
	} else if m := linkedinHrefPattern.FindStringSubmatch(resumeText); m != nil {
		p.LinkedIn = m[1]
	}

	// 姓名：自上而下找第一个 Title Case 行（至少两个词且每个词首字母大写）
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isTitleCaseName(line) {
			p.Name = line
			break
		}
	}

	if m := yearsPattern.FindStringSubmatch(resumeText); m != nil {
		if _, err := strconv.Atoi(m[1]); err == nil {
			p.YearsExperience = m[1]
		}
	}

	if m := degreePattern.FindString(resumeText); m != "" {
		p.Degree = m
	}

	// 最近职位：Experience 类标题后的第一个非空行
	for idx, line := range lines {
		if !experienceHeaderPattern.MatchString(line) {
			continue
		}
		for _, next := range lines[idx+1:] {
			nl := strings.TrimSpace(next)
			if nl != "" {
				p.LastTitle = nl
				break
			}
		}
		break
	}

	// 位置："City, ST" 形式，只扫前几行
	limit := locationScanLines
	if limit > len(lines) {
		limit = len(lines)
	}
	for _, line := range lines[:limit] {
		if m := locationPattern.FindString(line); m != "" {
			p.Location = m
			break
		}
	}

	p.Skills = extractSkills(lines)

	return p
}

// isTitleCaseName 判断一行是否像 "Ada Lovelace" 这种姓名行
func isTitleCaseName(line string) bool {
	words := strings.Fields(line)
	if len(words) < 2 {
		return false
	}
	for _, w := range words {
		r := []rune(w)[0]
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// extractSkills 在 Skills 小节内按逗号/分号切分，去重并过滤过长条目
func extractSkills(lines []string) []string {
	var skills []string
	seen := make(map[string]struct{})

	for idx, line := range lines {
		if !skillsHeaderPattern.MatchString(line) {
			continue
		}
		for _, sub := range lines[idx+1:] {
			if strings.TrimSpace(sub) == "" {
				break
			}
			if sectionBreakPattern.MatchString(sub) {
				break
			}
			for _, part := range strings.FieldsFunc(sub, func(r rune) bool {
				return r == ',' || r == ';'
			}) {
				part = strings.TrimSpace(part)
				if part == "" || len(part) >= maxSkillLen {
					continue
				}
				if _, dup := seen[part]; dup {
					continue
				}
				seen[part] = struct{}{}
				skills = append(skills, part)
			}
		}
		break
	}

	return skills
}
