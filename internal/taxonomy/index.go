package taxonomy

import (
	"bytes"
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// 向量空间参数，与离线训练时保持一致
const (
	maxFeatures = 5000 // 词表上限
	minDocFreq  = 2    // 词项最少出现的文档数
	maxDocRatio = 0.8  // 词项最多出现的文档占比
)

const snapshotVersion = 1

var (
	// ErrEmptyDataset 参考数据集为空或全部行不可用，索引无法构建
	ErrEmptyDataset = errors.New("参考数据集为空")
	// ErrBadSnapshot 快照损坏或版本不兼容
	ErrBadSnapshot = errors.New("索引快照不可用")
)

// Entry 参考数据集中的一条职业记录
type Entry struct {
	ID    int
	Label string
}

// Match 一次分类查询的候选结果
type Match struct {
	ID         int     `json:"id"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// sparseVec L2归一化后的稀疏TF-IDF向量
type sparseVec struct {
	Idx []int32
	Val []float64
}

// Index 职业分类索引：拟合好的TF-IDF向量空间加上逐条参考向量
// 构建完成后不可变，可被任意多个goroutine并发查询
type Index struct {
	vocab  map[string]int
	idf    []float64
	rows   []sparseVec
	ids    []int
	labels []string
	nDocs  int
}

// BuildIndex 从参考数据集拟合向量空间并生成索引
// 构建开销与语料规模成正比，进程生命周期内应只执行一次
func BuildIndex(entries []Entry) (*Index, error) {
	// 清洗语料，跳过清洗后为空的行
	type doc struct {
		id    int
		label string
		terms []string
	}
	docs := make([]doc, 0, len(entries))
	for _, e := range entries {
		normalized := Normalize(e.Label)
		terms := tokenize(normalized)
		if len(terms) == 0 {
			continue
		}
		docs = append(docs, doc{id: e.ID, label: e.Label, terms: terms})
	}
	if len(docs) == 0 {
		return nil, ErrEmptyDataset
	}

	// 统计文档频率和总词频
	df := make(map[string]int)
	tf := make(map[string]int)
	for _, d := range docs {
		seen := make(map[string]struct{}, len(d.terms))
		for _, t := range d.terms {
			tf[t]++
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}

	// 频率过滤：剔除过稀有和过常见的词项
	n := len(docs)
	maxDF := int(maxDocRatio * float64(n))
	if maxDF < 1 {
		maxDF = 1
	}
	minDF := minDocFreq
	if minDF > n {
		minDF = 1
	}

	candidates := make([]string, 0, len(df))
	for term, freq := range df {
		if freq >= minDF && freq <= maxDF {
			candidates = append(candidates, term)
		}
	}
	// 小语料下过滤可能清空词表，此时放宽到df>=1保证索引可用
	if len(candidates) == 0 {
		for term, freq := range df {
			if freq <= maxDF {
				candidates = append(candidates, term)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, ErrEmptyDataset
	}

	// 词表上限：按总词频降序截断，词频相同时按字典序保证确定性
	sort.Slice(candidates, func(i, j int) bool {
		if tf[candidates[i]] != tf[candidates[j]] {
			return tf[candidates[i]] > tf[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > maxFeatures {
		candidates = candidates[:maxFeatures]
	}

	vocab := make(map[string]int, len(candidates))
	for i, term := range candidates {
		vocab[term] = i
	}

	// 平滑IDF: ln((1+n)/(1+df)) + 1
	idf := make([]float64, len(candidates))
	for term, col := range vocab {
		idf[col] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	idx := &Index{
		vocab:  vocab,
		idf:    idf,
		rows:   make([]sparseVec, 0, len(docs)),
		ids:    make([]int, 0, len(docs)),
		labels: make([]string, 0, len(docs)),
		nDocs:  n,
	}

	for _, d := range docs {
		vec := idx.vectorize(d.terms)
		idx.rows = append(idx.rows, vec)
		idx.ids = append(idx.ids, d.id)
		idx.labels = append(idx.labels, d.label)
	}

	return idx, nil
}

// vectorize 把词项序列投影到拟合好的向量空间并做L2归一化
func (idx *Index) vectorize(terms []string) sparseVec {
	counts := make(map[int]float64)
	for _, t := range terms {
		if col, ok := idx.vocab[t]; ok {
			counts[col]++
		}
	}
	if len(counts) == 0 {
		return sparseVec{}
	}

	cols := make([]int, 0, len(counts))
	for col := range counts {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	vec := sparseVec{
		Idx: make([]int32, 0, len(cols)),
		Val: make([]float64, 0, len(cols)),
	}
	var norm float64
	for _, col := range cols {
		w := counts[col] * idx.idf[col]
		vec.Idx = append(vec.Idx, int32(col))
		vec.Val = append(vec.Val, w)
		norm += w * w
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec.Val {
			vec.Val[i] /= norm
		}
	}
	return vec
}

// dot 两个有序稀疏向量的点积，向量均已归一化，结果即余弦相似度
func dot(a, b sparseVec) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Idx) && j < len(b.Idx) {
		switch {
		case a.Idx[i] == b.Idx[j]:
			sum += a.Val[i] * b.Val[j]
			i++
			j++
		case a.Idx[i] < b.Idx[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Size 返回索引中的参考条目数
func (idx *Index) Size() int {
	return len(idx.rows)
}

// Query 返回与输入文本最相似的参考条目
// 输入清洗后为空或完全超出词表时置信度为0
func (idx *Index) Query(freeText string) Match {
	matches := idx.QueryTopK(freeText, 1)
	if len(matches) == 0 {
		return Match{Confidence: 0}
	}
	return matches[0]
}

// QueryTopK 返回按相似度降序排列的前k个候选
func (idx *Index) QueryTopK(freeText string, k int) []Match {
	if k <= 0 {
		return nil
	}

	query := idx.vectorize(tokenize(Normalize(freeText)))
	if len(query.Idx) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(idx.rows))
	for i, row := range idx.rows {
		sim := dot(query, row)
		if sim <= 0 {
			continue
		}
		matches = append(matches, Match{
			ID:         idx.ids[i],
			Confidence: sim,
			Label:      idx.labels[i],
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// indexSnapshot gob序列化用的快照结构
type indexSnapshot struct {
	Version int
	Vocab   map[string]int
	IDF     []float64
	Rows    []sparseVec
	IDs     []int
	Labels  []string
	NDocs   int
}

// EncodeSnapshot 把索引序列化为可持久化的快照
func (idx *Index) EncodeSnapshot() ([]byte, error) {
	snap := indexSnapshot{
		Version: snapshotVersion,
		Vocab:   idx.vocab,
		IDF:     idx.idf,
		Rows:    idx.rows,
		IDs:     idx.ids,
		Labels:  idx.labels,
		NDocs:   idx.nDocs,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, fmt.Errorf("编码索引快照失败: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot 从快照字节恢复索引
// 任何解码失败都返回ErrBadSnapshot，调用方应回退到从数据集重建
func DecodeSnapshot(data []byte) (*Index, error) {
	var snap indexSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: 版本不匹配 %d", ErrBadSnapshot, snap.Version)
	}
	if len(snap.Rows) == 0 || len(snap.Rows) != len(snap.IDs) || len(snap.IDs) != len(snap.Labels) {
		return nil, fmt.Errorf("%w: 数据不完整", ErrBadSnapshot)
	}
	return &Index{
		vocab:  snap.Vocab,
		idf:    snap.IDF,
		rows:   snap.Rows,
		ids:    snap.IDs,
		labels: snap.Labels,
		nDocs:  snap.NDocs,
	}, nil
}

// LoadEntriesCSV 从CSV读取参考数据集 (列: profession_name,profession_id)
// 单行格式错误跳过不致命；fallbackID对应的行不进入训练语料
func LoadEntriesCSV(r io.Reader, fallbackID int) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var entries []Entry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 整行无法解析时跳过该行继续
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("读取参考数据集失败: %w", err)
		}
		if len(record) < 2 {
			continue
		}

		label := strings.TrimSpace(record[0])
		id, convErr := strconv.Atoi(strings.TrimSpace(record[1]))
		if convErr != nil || label == "" {
			// 表头或脏数据行
			continue
		}
		if id == fallbackID {
			continue
		}
		entries = append(entries, Entry{ID: id, Label: label})
	}

	if len(entries) == 0 {
		return nil, ErrEmptyDataset
	}
	return entries, nil
}
