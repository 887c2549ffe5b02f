package classify

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parser", func() {
	var (
		set    CategorySet
		parser *Parser
		raw    string
		result Result
	)

	BeforeEach(func() {
		var err error
		set, err = NewCategorySet("Miscellaneous", "Retail", "Groceries", "Miscellaneous")
		Expect(err).NotTo(HaveOccurred())
		parser = NewParser(set)
	})

	JustBeforeEach(func() {
		result = parser.Parse(raw)
	})

	When("the response is a JSON object", func() {
		BeforeEach(func() {
			raw = `{"predicted_category": "Groceries"}`
		})

		It("should return the category from JSON", func() {
			Expect(result).To(Equal(Result{Category: "Groceries", Stage: StageJSON}))
		})
	})

	When("the JSON object is wrapped in prose and a code block", func() {
		BeforeEach(func() {
			raw = "Sure! Here you go:\n```json\n{\"predicted_category\": \"groceries\"}\n```"
		})

		It("should extract the object and return the declared spelling", func() {
			Expect(result).To(Equal(Result{Category: "Groceries", Stage: StageJSON}))
		})
	})

	When("the JSON uses the category key", func() {
		BeforeEach(func() {
			raw = `{"category": "Retail"}`
		})

		It("should read it", func() {
			Expect(result).To(Equal(Result{Category: "Retail", Stage: StageJSON}))
		})
	})

	When("the JSON names a category outside the set", func() {
		BeforeEach(func() {
			raw = `{"predicted_category": "Fuel"}`
		})

		It("should fall through to Unknown", func() {
			Expect(result).To(Equal(Result{Category: Unknown, Stage: StageUnknown}))
		})
	})

	When("the JSON names an unlisted label that contains a listed one", func() {
		BeforeEach(func() {
			raw = `{"predicted_category": "Online Retail"}`
		})

		It("should fall through to containment matching", func() {
			Expect(result).To(Equal(Result{Category: "Retail", Stage: StageContains}))
		})
	})

	When("the JSON is malformed with a trailing comment", func() {
		BeforeEach(func() {
			raw = `{"predicted_category": "Groceries" /* best guess */} Retail was also considered`
		})

		It("should match against the original text", func() {
			Expect(result).To(Equal(Result{Category: "Retail", Stage: StageContains}))
		})
	})

	When("the response is plain text", func() {
		BeforeEach(func() {
			raw = "I think this is Retail."
		})

		It("should match by containment", func() {
			Expect(result).To(Equal(Result{Category: "Retail", Stage: StageContains}))
		})
	})

	When("the response is a quoted label", func() {
		BeforeEach(func() {
			raw = `  "groceries"  `
		})

		It("should match case-insensitively", func() {
			Expect(result.Category).To(Equal("Groceries"))
		})
	})

	When("the response names two categories", func() {
		BeforeEach(func() {
			raw = "Could be Groceries or Retail"
		})

		It("should prefer the first category in declared order", func() {
			Expect(result.Category).To(Equal("Retail"))
		})
	})

	When("the response matches nothing", func() {
		BeforeEach(func() {
			raw = "asdkjhasd"
		})

		It("should return Unknown", func() {
			Expect(result).To(Equal(Result{Category: Unknown, Stage: StageUnknown}))
		})
	})

	When("the response is empty", func() {
		BeforeEach(func() {
			raw = ""
		})

		It("should return Unknown", func() {
			Expect(result.Category).To(Equal(Unknown))
		})
	})

	When("the JSON value is not a string", func() {
		BeforeEach(func() {
			raw = `{"predicted_category": 3}`
		})

		It("should return Unknown", func() {
			Expect(result.Category).To(Equal(Unknown))
		})
	})

	When("the field names are customized", func() {
		BeforeEach(func() {
			parser = NewParser(set, WithFieldNames("label"))
			raw = `{"label": "Groceries", "predicted_category": "Retail"}`
		})

		It("should read only the configured key", func() {
			Expect(result).To(Equal(Result{Category: "Groceries", Stage: StageJSON}))
		})
	})
})
