package score

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/notice"
)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(DefaultRules())
	require.NoError(t, err)
	return s
}

func item(ministry, agency, title string) notice.Notice {
	var m notice.Meta
	if ministry != "" {
		m.Set(notice.MetaMinistry, ministry)
	}
	if agency != "" {
		m.Set(notice.MetaAgency, agency)
	}
	return notice.Notice{Title: title, Meta: m}
}

func TestScorePrimaryAgencyWithHealthKeyword(t *testing.T) {
	res := newScorer(t).Score(item("보건복지부", "", "의료기기 지원사업 공고"), "")

	assert.Equal(t, 4, res.Score)
	assert.Equal(t, TierPrimary, res.Tier)
	assert.Equal(t, []string{
		"1순위 보건/의료 기관(+3)",
		"헬스 키워드 [의료기기](+1)",
	}, res.Reasons())
}

func TestScoreSecondaryAgencyPenalty(t *testing.T) {
	res := newScorer(t).Score(item("산업통상자원부", "한국산업기술진흥원", "반도체 공정 장비 개발"), "")

	assert.Equal(t, TierSecondary, res.Tier)
	assert.Equal(t, -1, res.Score)
	assert.Equal(t, []string{
		"2순위 R&D/ICT 기관(+1)",
		"비헬스 키워드 [반도체](-1)",
		"2순위 기관인데 헬스 키워드 없음(-1)",
	}, res.Reasons())
}

func TestScoreNoPenaltyWhenPrimaryMatches(t *testing.T) {
	res := newScorer(t).Score(item("산업통상자원부", "한국보건산업진흥원", "사업 공고"), "")

	assert.Equal(t, TierPrimary, res.Tier)
	assert.Equal(t, 3, res.Score)
}

func TestScoreIncludeCap(t *testing.T) {
	res := newScorer(t).Score(item("", "", "의료기기 디지털헬스 웨어러블 임상시험 재활 환자"), "")

	assert.Len(t, res.Included, 6)
	assert.Equal(t, 4, res.IncludeDelta)
	assert.Equal(t, 4, res.Score)
}

func TestScoreExcludeLookahead(t *testing.T) {
	s := newScorer(t)

	assert.Empty(t, s.Score(item("", "", "반도체 바이오 센서"), "").Excluded)
	assert.Equal(t, []string{"반도체"}, s.Score(item("", "", "반도체 소자"), "").Excluded)
	assert.Empty(t, s.Score(item("", "", "디스플레이 헬스케어"), "").Excluded)
}

func TestScoreContextBonusIsCaseInsensitive(t *testing.T) {
	res := newScorer(t).Score(item("", "", "ai 플랫폼 구축"), "")

	assert.Equal(t, 1, res.Score)
	assert.Equal(t, []string{"디지털/R&D 맥락(+1)"}, res.Reasons())
}

func TestScoreUsesExtraText(t *testing.T) {
	s := newScorer(t)
	n := item("", "", "2025년 지원사업")

	assert.Equal(t, 0, s.Score(n, "").Score)
	assert.Equal(t, 1, s.Score(n, "원격진료 실증").Score)
}

func TestScoreFallsBackToMetaTitle(t *testing.T) {
	n := item("보건복지부", "", "")
	n.Meta.Set(notice.MetaTitle, "웨어러블 기기 공모")

	assert.Equal(t, 4, newScorer(t).Score(n, "").Score)
}

func TestScoreMonotonicInIncludes(t *testing.T) {
	s := newScorer(t)
	base := item("과학기술정보통신부", "", "기술개발 사업")
	more := item("과학기술정보통신부", "", "기술개발 사업 웨어러블")

	assert.Greater(t, s.Score(more, "").Score, s.Score(base, "").Score)
}

func TestScoreBounds(t *testing.T) {
	s := newScorer(t)
	titles := []string{
		"",
		"의료기기 디지털헬스 웨어러블 임상시험 재활 환자 ai",
		"토목 항공 국방 원전 광산 자동차부품 반도체 에너지 농업 인프라 양자컴퓨팅",
	}
	for _, title := range titles {
		for _, ministry := range []string{"", "보건복지부", "산업통상자원부"} {
			res := s.Score(item(ministry, "", title), "")
			assert.GreaterOrEqual(t, res.Score, -5, title)
			assert.LessOrEqual(t, res.Score, 8, title)
		}
	}
}

func TestScoreExcludeNeverRaisesAndFloorsAtCap(t *testing.T) {
	rules := DefaultRules()
	words := []string{"토목", "항공", "국방", "원전", "광산", "수소"}
	rules.Keywords.Exclude = words
	s, err := New(rules)
	require.NoError(t, err)

	prevScore, prevDelta := s.Score(item("보건복지부", "", "의료기기 지원"), "").Score, 0
	for i := 1; i <= len(words); i++ {
		title := "의료기기 지원 " + strings.Join(words[:i], " ")
		res := s.Score(item("보건복지부", "", title), "")

		assert.LessOrEqual(t, res.ExcludeDelta, prevDelta, title)
		assert.LessOrEqual(t, res.Score, prevScore, title)
		assert.Equal(t, -min(i, 4), res.ExcludeDelta, title)
		assert.Len(t, res.Excluded, i, title)
		assert.Equal(t, 1, res.IncludeDelta, title)
		prevScore, prevDelta = res.Score, res.ExcludeDelta
	}
}

func TestScoreIncludeDeltaIsCapped(t *testing.T) {
	s := newScorer(t)
	words := []string{"의료기기", "웨어러블", "재활", "임상시험", "디지털헬스", "환자"}
	for i := 0; i <= len(words); i++ {
		title := "지원사업 " + strings.Join(words[:i], " ")
		res := s.Score(item("", "", title), "")

		assert.GreaterOrEqual(t, res.IncludeDelta, 0, title)
		assert.LessOrEqual(t, res.IncludeDelta, 4, title)
		assert.Equal(t, min(i, 4), res.IncludeDelta, title)
	}
}

func TestApplySetsScoreAndReasons(t *testing.T) {
	n := item("보건복지부", "", "의료기기 지원사업 공고")
	newScorer(t).Apply(&n, "")

	require.NotNil(t, n.Score)
	assert.Equal(t, 4, *n.Score)
	assert.Len(t, n.Reasons, 2)
	assert.True(t, Interesting(*n.Score, 0))
	assert.False(t, Interesting(-1, 0))
}

func TestLoadRulesOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  primary: 5\n"), 0o600))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Weights.Primary)
	assert.Equal(t, 1, r.Weights.Secondary)
	assert.NotEmpty(t, r.Keywords.Include)
}

func TestLoadRulesRejectsBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords:\n  include: ['(unclosed']\n"), 0o600))

	_, err := LoadRules(path)
	assert.Error(t, err)
}

func TestDefaultRulesAnchors(t *testing.T) {
	r := DefaultRules()
	require.NotEmpty(t, r.Anchors)
	assert.Equal(t, AnchorWeight{Keyword: "신청", Weight: 5}, r.Anchors[0])
}
