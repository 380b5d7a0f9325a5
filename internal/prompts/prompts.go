// Package prompts centralizes every LLM prompt template in the service:
// answering, summarisation, hierarchy routing, query expansion, history
// compaction, and chunk enrichment. Keeping the wording in one place makes
// prompt changes reviewable without touching pipeline code.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

// summaryIntentPattern recognises questions that ask for a document
// overview rather than a specific fact.
var summaryIntentPattern = regexp.MustCompile(`(?i).*(总结|概括|主要内容|讲了什么|介绍一下|大纲|summary|overview).*`)

// IsSummaryIntent reports whether query asks for a document-level summary.
func IsSummaryIntent(query string) bool {
	return summaryIntentPattern.MatchString(query)
}

// GroundedQA is the system prompt for answering a question from retrieved
// document fragments.
func GroundedQA(context string) string {
	return fmt.Sprintf(`你是一个专业的文档问答助手。请严格根据下面提供的文档内容回答用户的问题。

回答要求：
1. 只依据文档内容作答，不要编造文档中不存在的信息。
2. 如果文档内容不足以回答问题，请明确说明。
3. 回答中引用原文时保持准确。
4. 使用与用户提问相同的语言回答。

文档内容：
%s`, context)
}

// DocumentSummary is the system prompt used when the user asks for an
// overview of the document.
func DocumentSummary(context string) string {
	return fmt.Sprintf(`你是一个专业的文档总结助手。请根据下面提供的文档内容，为用户生成一份结构清晰的总结。

总结要求：
1. 覆盖文档的主要主题和关键信息。
2. 按文档的章节结构组织内容。
3. 语言简洁准确，不要加入文档之外的信息。

文档内容：
%s`, context)
}

// NoRelevantContent is the system prompt when retrieval over the selected
// documents produced nothing useful.
func NoRelevantContent() string {
	return `你是一个文档问答助手。当前文档中没有检索到与用户问题相关的内容。请礼貌地告知用户在所选文档中未找到相关信息，并建议用户换一种问法或确认文档选择是否正确。不要编造文档内容。`
}

// OpenChat is the system prompt when no document is in scope.
func OpenChat() string {
	return `你是一个乐于助人的智能助手。请直接、准确地回答用户的问题。`
}

// HierarchyPrediction builds the routing prompt: given a query and the
// document's section paths, the model must return exactly one path or the
// literal NONE.
func HierarchyPrediction(query string, hierarchies []string) string {
	var sb strings.Builder
	sb.WriteString("给定用户问题和文档的章节层级列表，判断问题最可能涉及哪个章节。\n")
	sb.WriteString("只返回列表中匹配的那一个层级路径，原样返回，不要添加任何解释；如果没有明显匹配的章节，返回 NONE。\n\n")
	sb.WriteString("章节层级列表：\n")
	for _, h := range hierarchies {
		sb.WriteString("- ")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("\n用户问题：")
	sb.WriteString(query)
	return sb.String()
}

// QueryExpansion asks the model to rephrase a short query into a fuller
// retrieval query with synonyms. The expansion is appended to the original
// query, never substituted for it.
func QueryExpansion(query string) string {
	return fmt.Sprintf(`请将下面的问题改写为一个更完整的检索查询：补全省略的主语和限定词，并加入常见的同义词或相关术语。只输出改写后的查询本身，不要解释。

问题：%s`, query)
}

// HistoryCompaction asks the model to compress old conversation turns into
// a short summary that replaces them.
func HistoryCompaction(history string) string {
	return fmt.Sprintf(`请将以下对话历史压缩为简短摘要，保留关键信息、结论和未解决的问题：

%s`, history)
}

// SummaryLead prefixes the persisted session summary when it is replayed
// as a system message.
const SummaryLead = "之前的对话摘要："

// EnrichmentSystem instructs the model to situate a chunk inside its
// document.
const EnrichmentSystem = `你是一个文档索引助手。给定一篇文档和其中的一个片段，请用一句话（不超过50个字）说明该片段在文档中的位置和主题，用于改进检索效果。只输出这一句话本身。`

// Enrichment builds the user prompt for one chunk against the (possibly
// truncated) document body.
func Enrichment(document, chunk string) string {
	return fmt.Sprintf(`<文档>
%s
</文档>

<片段>
%s
</片段>

请给出该片段的定位说明：`, document, chunk)
}
