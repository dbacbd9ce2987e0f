package retrieval

// SampleCorpus returns the built-in reference entries shipped with every
// installation: procedures and legal basics a municipal service desk answers
// most often.
func SampleCorpus() []Entry {
	return []Entry{
		{
			ID:     "sample-appeal-fines",
			Text:   "Обжалование административного штрафа: жалоба подается в течение 10 суток со дня получения копии постановления. Обжалуемые штрафы не подлежат оплате до вынесения решения по жалобе.",
			Tags:   []string{"appeal", "юридический", "штрафы", "постановление"},
			Source: "sample:appeal-fines",
		},
		{
			ID:     "sample-street-lighting",
			Text:   "Неисправное уличное освещение устраняет управление благоустройства. Срок восстановления освещения после обращения составляет не более 5 рабочих дней.",
			Tags:   []string{"благоустройство", "освещение", "жкх"},
			Source: "sample:street-lighting",
		},
		{
			ID:     "sample-response-deadline",
			Text:   "Письменное обращение гражданина рассматривается в течение 30 дней со дня регистрации. В исключительных случаях срок может быть продлен не более чем на 30 дней с уведомлением заявителя.",
			Tags:   []string{"обращения", "сроки", "59-фз"},
			Source: "sample:response-deadline",
		},
		{
			ID:     "sample-it-support",
			Text:   "Неполадки с компьютером, интернетом и корпоративной почтой в учреждениях направляются в отдел информационных технологий.",
			Tags:   []string{"ит", "интернет", "техподдержка"},
			Source: "sample:it-support",
		},
		{
			ID:     "sample-housing-repair",
			Text:   "Заявки на ремонт кровли, подъездов и инженерных сетей многоквартирных домов принимает отдел жилищно-коммунального хозяйства.",
			Tags:   []string{"жкх", "ремонт", "жилье"},
			Source: "sample:housing-repair",
		},
		{
			ID:     "sample-roads",
			Text:   "Ямочный ремонт дорог и восстановление дорожного покрытия выполняются по графику управления дорожного хозяйства. Аварийные выбоины устраняются в течение 10 дней.",
			Tags:   []string{"дороги", "ремонт", "транспорт"},
			Source: "sample:roads",
		},
		{
			ID:     "sample-social-benefits",
			Text:   "Назначение социальных выплат и льгот производит отдел социальной защиты населения по заявлению и документам, подтверждающим право на льготу.",
			Tags:   []string{"социальная защита", "льготы", "выплаты"},
			Source: "sample:social-benefits",
		},
	}
}
